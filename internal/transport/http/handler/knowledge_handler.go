package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tiendabot/internal/app"
	"tiendabot/internal/transport/http/response"
)

const maxUploadBytes = 20 << 20

type KnowledgeHandler struct {
	knowledge *app.KnowledgeService
}

func NewKnowledgeHandler(knowledge *app.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

// Upload ingests a multipart document (.pdf, .txt, .md). Category and
// priority come as form fields.
func (h *KnowledgeHandler) Upload(c *gin.Context) {
	data, filename, ok := readUpload(c)
	if !ok {
		return
	}

	priority, _ := strconv.Atoi(c.PostForm("priority"))
	summary, err := h.knowledge.UploadFile(c.Request.Context(), filename, data, c.PostForm("category"), priority)
	if err != nil {
		failKnowledge(c, err)
		return
	}
	response.Created(c, summary)
}

// UploadChatExport ingests a raw conversation export.
func (h *KnowledgeHandler) UploadChatExport(c *gin.Context) {
	data, filename, ok := readUpload(c)
	if !ok {
		return
	}

	summary, err := h.knowledge.ImportChatExport(c.Request.Context(), filename, data)
	if err != nil {
		failKnowledge(c, err)
		return
	}
	response.Created(c, summary)
}

type noteRequest struct {
	Title    string `json:"title"`
	Text     string `json:"text" binding:"required"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
}

func (h *KnowledgeHandler) AddNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.knowledge.AddNote(c.Request.Context(), req.Title, req.Text, req.Category, req.Priority)
	if err != nil {
		failKnowledge(c, err)
		return
	}
	response.Created(c, summary)
}

func (h *KnowledgeHandler) List(c *gin.Context) {
	docs, err := h.knowledge.ListDocuments(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *KnowledgeHandler) Delete(c *gin.Context) {
	if err := h.knowledge.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		failKnowledge(c, err)
		return
	}
	response.OK(c, nil)
}

type updateDocumentRequest struct {
	Category *string `json:"category"`
	Priority *int    `json:"priority"`
}

func (h *KnowledgeHandler) Update(c *gin.Context) {
	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Category == nil && req.Priority == nil {
		response.Fail(c, http.StatusBadRequest, "nothing to update")
		return
	}
	if err := h.knowledge.UpdateDocument(c.Request.Context(), c.Param("id"), req.Category, req.Priority); err != nil {
		failKnowledge(c, err)
		return
	}
	response.OK(c, nil)
}

func readUpload(c *gin.Context) ([]byte, string, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "missing file field")
		return nil, "", false
	}
	if fileHeader.Size > maxUploadBytes {
		response.Fail(c, http.StatusRequestEntityTooLarge, "file too large")
		return nil, "", false
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "unreadable upload")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "read upload failed")
		return nil, "", false
	}
	return data, fileHeader.Filename, true
}

func failKnowledge(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrEmptyDocument), errors.Is(err, app.ErrUnsupportedFile):
		response.Fail(c, http.StatusBadRequest, err.Error())
	default:
		response.Fail(c, http.StatusInternalServerError, err.Error())
	}
}
