package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/service"
	"policy-rag-go/pkg/embedding"
	"policy-rag-go/pkg/llm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubChat struct {
	result *model.AskResult
	err    error
	reqs   []service.AskRequest
}

func (s *stubChat) Ask(_ context.Context, req service.AskRequest) (*model.AskResult, error) {
	s.reqs = append(s.reqs, req)
	return s.result, s.err
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, body *bytes.Buffer) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body.Bytes(), &env))
	return env
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", model.ErrInvalidConfiguration), http.StatusBadRequest},
		{fmt.Errorf("doc x: %w", model.ErrNotFound), http.StatusNotFound},
		{model.ErrAllChunksFailed, http.StatusUnprocessableEntity},
		{model.ErrDimensionMismatch, http.StatusUnprocessableEntity},
		{fmt.Errorf("embed: %w", &embedding.ServiceError{Status: 500}), http.StatusBadGateway},
		{fmt.Errorf("chat: %w", &llm.ServiceError{Status: 0}), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func newChatRouter(chat service.ChatService) *gin.Engine {
	r := gin.New()
	h := NewChatHandler(chat)
	r.POST("/ask", h.Ask)
	r.GET("/ask/ws", h.Handle)
	return r
}

func TestChatHandlerAsk(t *testing.T) {
	t.Run("answer", func(t *testing.T) {
		chat := &stubChat{result: &model.AskResult{
			Answer:            "8 hours (Page 4, p4_c0)",
			Citations:         []model.Citation{{Page: 4, ChunkID: "p4_c0", Excerpt: "8 hours"}},
			RetrievedChunkIDs: []string{"p4_c0"},
		}}
		w := httptest.NewRecorder()
		body := `{"doc_id":"handbook","question":"How much leave?","top_k":3,"min_score":0}`
		newChatRouter(chat).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body)))

		assert.Equal(t, http.StatusOK, w.Code)
		env := decode(t, w.Body)
		assert.Equal(t, http.StatusOK, env.Code)
		var res model.AskResult
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.Equal(t, "8 hours (Page 4, p4_c0)", res.Answer)
		assert.Equal(t, []string{"p4_c0"}, res.RetrievedChunkIDs)

		require.Len(t, chat.reqs, 1)
		assert.Equal(t, 3, chat.reqs[0].TopK)
		require.NotNil(t, chat.reqs[0].MinScore)
		assert.Equal(t, 0.0, *chat.reqs[0].MinScore)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := httptest.NewRecorder()
		newChatRouter(&stubChat{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("service errors map to statuses", func(t *testing.T) {
		w := httptest.NewRecorder()
		chat := &stubChat{err: fmt.Errorf("document missing: %w", model.ErrNotFound)}
		newChatRouter(chat).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"doc_id":"missing","question":"q"}`)))
		assert.Equal(t, http.StatusNotFound, w.Code)
		env := decode(t, w.Body)
		assert.Equal(t, http.StatusNotFound, env.Code)
		assert.Contains(t, env.Message, "document missing")
	})
}

func TestChatHandlerWebSocket(t *testing.T) {
	chat := &stubChat{result: &model.AskResult{Answer: service.FallbackAnswer, Citations: []model.Citation{}, RetrievedChunkIDs: []string{}}}
	srv := httptest.NewServer(newChatRouter(chat))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ask/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() wsMessage {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"doc_id":"handbook","question":"dress code?"}`)))
	answer := read()
	assert.Equal(t, "answer", answer.Type)
	data, ok := answer.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, service.FallbackAnswer, data["answer"])
	assert.Equal(t, "completion", read().Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad := read()
	assert.Equal(t, "error", bad.Type)
	assert.Equal(t, http.StatusBadRequest, bad.Status)
}
