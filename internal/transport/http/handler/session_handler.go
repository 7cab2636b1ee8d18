package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tiendabot/internal/app"
	"tiendabot/internal/transport/http/response"
)

type SessionHandler struct {
	chat *app.ChatService
}

func NewSessionHandler(chat *app.ChatService) *SessionHandler {
	return &SessionHandler{chat: chat}
}

type createSessionRequest struct {
	PhoneNumber   string `json:"phone_number"`
	SenderName    string `json:"sender_name"`
	PromptContext string `json:"prompt_context"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.chat.CreateSession(req.PhoneNumber, req.SenderName, req.PromptContext)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "create session failed")
		return
	}
	response.Created(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.chat.ListSessions()
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *SessionHandler) Get(c *gin.Context) {
	transcript, err := h.chat.GetTranscript(c.Param("id"))
	if err != nil {
		failSession(c, err)
		return
	}
	response.OK(c, transcript)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.chat.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		failSession(c, err)
		return
	}
	response.OK(c, nil)
}

type promptContextRequest struct {
	PromptContext string `json:"prompt_context"`
}

func (h *SessionHandler) SetContext(c *gin.Context) {
	var req promptContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.chat.SetPromptContext(c.Param("id"), req.PromptContext); err != nil {
		failSession(c, err)
		return
	}
	response.OK(c, nil)
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

// PostMessage runs one simulator turn.
func (h *SessionHandler) PostMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.chat.HandleTurn(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		failSession(c, err)
		return
	}
	response.OK(c, result)
}

type handoffRequest struct {
	Reason string `json:"reason"`
}

func (h *SessionHandler) RequestHandoff(c *gin.Context) {
	var req handoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.chat.RequestHandoff(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		failSession(c, err)
		return
	}
	response.OK(c, nil)
}

func (h *SessionHandler) OperatorReply(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.chat.OperatorReply(c.Request.Context(), c.Param("id"), req.Text); err != nil {
		failSession(c, err)
		return
	}
	response.OK(c, nil)
}

func (h *SessionHandler) ReturnToBot(c *gin.Context) {
	if err := h.chat.ReturnToBot(c.Request.Context(), c.Param("id")); err != nil {
		failSession(c, err)
		return
	}
	response.OK(c, nil)
}

func failSession(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrEmptyMessage):
		response.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotInHandoff):
		response.Fail(c, http.StatusConflict, err.Error())
	default:
		response.Fail(c, http.StatusInternalServerError, err.Error())
	}
}
