package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tiendabot/internal/ai"
	"tiendabot/internal/introspect"
	"tiendabot/internal/transport/http/response"
)

type IntrospectHandler struct {
	engine *introspect.Engine
}

func NewIntrospectHandler(engine *introspect.Engine) *IntrospectHandler {
	return &IntrospectHandler{engine: engine}
}

type askTurn struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

type askRequest struct {
	SessionID string    `json:"session_id" binding:"required"`
	Question  string    `json:"question" binding:"required"`
	History   []askTurn `json:"history"`
}

func (h *IntrospectHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	history := make([]ai.Message, len(req.History))
	for i, turn := range req.History {
		history[i] = ai.Message{Role: turn.Role, Content: turn.Content}
	}

	answer, err := h.engine.Ask(c.Request.Context(), req.SessionID, req.Question, history)
	if err != nil {
		if errors.Is(err, introspect.ErrNoTurnData) {
			response.Fail(c, http.StatusNotFound, err.Error())
			return
		}
		response.Fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.OK(c, answer)
}

func (h *IntrospectHandler) Apply(c *gin.Context) {
	var action introspect.Action
	if err := c.ShouldBindJSON(&action); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Apply(c.Request.Context(), action)
	if err != nil {
		switch {
		case errors.Is(err, introspect.ErrUnknownAction):
			response.Fail(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, introspect.ErrStaleDoc):
			response.Fail(c, http.StatusConflict, err.Error())
		default:
			response.Fail(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	response.OK(c, gin.H{"result": result})
}
