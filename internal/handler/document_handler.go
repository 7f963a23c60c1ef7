package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/service"
	"policy-rag-go/pkg/log"
)

// maxUploadBytes caps source files accepted by the upload endpoints.
const maxUploadBytes = 64 << 20

// DocumentHandler serves document ingestion and inspection.
type DocumentHandler struct {
	docService     service.DocumentService
	historyService service.AskHistoryService
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(docService service.DocumentService, historyService service.AskHistoryService) *DocumentHandler {
	return &DocumentHandler{docService: docService, historyService: historyService}
}

// Ingest indexes pages that were extracted by the caller.
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req model.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	result, err := h.docService.Ingest(c.Request.Context(), req)
	if err != nil {
		failWith(c, "Ingest "+req.DocID, err)
		return
	}
	ok(c, "document indexed", result)
}

// Upload accepts a source file as multipart field "file" and queues it for
// extraction and indexing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	data, fileName, err := readFormFile(c, "file")
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	req := service.UploadRequest{
		DocID:          c.PostForm("doc_id"),
		FileName:       fileName,
		Data:           data,
		EmbeddingModel: c.PostForm("embedding_model"),
		VisionModel:    c.PostForm("vision_model"),
		EnableVision:   c.PostForm("enable_vision") == "true",
	}
	if req.ChunkSize, err = formInt(c, "chunk_size"); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if v := c.PostForm("overlap"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil {
			fail(c, http.StatusBadRequest, "overlap must be an integer")
			return
		}
		req.Overlap = &o
	}

	result, err := h.docService.Upload(c.Request.Context(), req)
	if err != nil {
		failWith(c, "Upload "+fileName, err)
		return
	}
	if result.Status == model.DocumentStatusQueued {
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "document queued", "data": result})
		return
	}
	ok(c, "document indexed", result)
}

// IngestImage indexes a single image as document image_{image_id}.
func (h *DocumentHandler) IngestImage(c *gin.Context) {
	data, _, err := readFormFile(c, "file")
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.docService.IngestImage(c.Request.Context(),
		c.PostForm("image_id"), data, c.PostForm("vision_model"), c.PostForm("embedding_model"))
	if err != nil {
		failWith(c, "IngestImage", err)
		return
	}
	ok(c, "image indexed", result)
}

// List returns a page of the document catalog.
func (h *DocumentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	records, total, err := h.docService.List((page-1)*size, size)
	if err != nil {
		failWith(c, "List documents", err)
		return
	}
	ok(c, "success", gin.H{"content": records, "totalElements": total, "number": page, "size": size})
}

// Get returns the ingestion metadata of a document.
func (h *DocumentHandler) Get(c *gin.Context) {
	docID := c.Param("docId")
	meta, err := h.docService.Metadata(c.Request.Context(), docID)
	if err != nil {
		failWith(c, "Get "+docID, err)
		return
	}
	ok(c, "success", meta)
}

// Asks returns the recent questions asked of a document.
func (h *DocumentHandler) Asks(c *gin.Context) {
	docID := c.Param("docId")
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	records, err := h.historyService.Recent(c.Request.Context(), docID, limit)
	if err != nil {
		failWith(c, "Asks "+docID, err)
		return
	}
	ok(c, "success", records)
}

func readFormFile(c *gin.Context, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("multipart field %q is required", field)
	}
	if fh.Size > maxUploadBytes {
		return nil, "", fmt.Errorf("file is larger than %d bytes", maxUploadBytes)
	}
	data, err := readMultipart(fh)
	if err != nil {
		log.Errorf("reading upload %s failed: %v", fh.Filename, err)
		return nil, "", fmt.Errorf("cannot read uploaded file")
	}
	return data, fh.Filename, nil
}

func readMultipart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formInt(c *gin.Context, key string) (int, error) {
	v := c.PostForm(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}
