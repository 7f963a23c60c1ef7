package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"policy-rag-go/internal/service"
	"policy-rag-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler answers questions over HTTP and websocket.
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Ask answers one question about one document.
func (h *ChatHandler) Ask(c *gin.Context) {
	var req service.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	result, err := h.chatService.Ask(c.Request.Context(), req)
	if err != nil {
		failWith(c, "Ask "+req.DocID, err)
		return
	}
	ok(c, "success", result)
}

type wsMessage struct {
	Type      string      `json:"type"`
	Status    int         `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Handle serves a websocket session. Each text frame is a JSON AskRequest
// and is answered with one "answer" or "error" frame followed by a
// "completion" frame.
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket upgrade failed", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket session opened from %s", c.ClientIP())

	ctx := c.Request.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("reading from WebSocket failed: %v", err)
			}
			return
		}

		var req service.AskRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if !h.write(conn, wsMessage{Type: "error", Status: http.StatusBadRequest, Message: "message must be a JSON ask request"}) {
				return
			}
			continue
		}

		result, err := h.chatService.Ask(ctx, req)
		var reply wsMessage
		if err != nil {
			log.Warnf("WebSocket ask on %s failed: %v", req.DocID, err)
			reply = wsMessage{Type: "error", Status: statusOf(err), Message: err.Error()}
		} else {
			reply = wsMessage{Type: "answer", Data: result}
		}
		if !h.write(conn, reply) || !h.write(conn, wsMessage{Type: "completion", Message: "finished"}) {
			return
		}
	}
}

func (h *ChatHandler) write(conn *websocket.Conn, msg wsMessage) bool {
	msg.Timestamp = time.Now().UnixMilli()
	b, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("encoding WebSocket message failed: %v", err)
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("writing to WebSocket failed: %v", err)
		return false
	}
	return true
}
