package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tiendabot/internal/runtimecfg"
	"tiendabot/internal/transport/http/response"
)

type ConfigHandler struct {
	cfg *runtimecfg.Store
}

func NewConfigHandler(cfg *runtimecfg.Store) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

func (h *ConfigHandler) Get(c *gin.Context) {
	snapshot := h.cfg.Snapshot()
	// Versions have their own endpoint; the snapshot stays lean.
	snapshot.PromptVersions = nil
	response.OK(c, snapshot)
}

type promptRequest struct {
	SystemPrompt string `json:"system_prompt" binding:"required"`
}

func (h *ConfigHandler) PutPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.cfg.SavePrompt(req.SystemPrompt); err != nil {
		failConfig(c, err)
		return
	}
	response.OK(c, nil)
}

type modelParamsRequest struct {
	Model       string  `json:"model" binding:"required"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func (h *ConfigHandler) PutModelParams(c *gin.Context) {
	var req modelParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.cfg.SaveModelParams(req.Model, req.Temperature, req.MaxTokens); err != nil {
		failConfig(c, err)
		return
	}
	response.OK(c, nil)
}

type defaultContextRequest struct {
	PromptContextDefault string `json:"prompt_context_default"`
}

func (h *ConfigHandler) PutDefaultContext(c *gin.Context) {
	var req defaultContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.cfg.SaveDefaultContext(req.PromptContextDefault); err != nil {
		failConfig(c, err)
		return
	}
	response.OK(c, nil)
}

type sessionTimeoutRequest struct {
	SessionTimeoutMinutes int `json:"session_timeout_minutes" binding:"required"`
}

func (h *ConfigHandler) PutSessionTimeout(c *gin.Context) {
	var req sessionTimeoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.cfg.SaveSessionTimeout(req.SessionTimeoutMinutes); err != nil {
		failConfig(c, err)
		return
	}
	response.OK(c, nil)
}

type greetingRequest struct {
	Enabled  bool     `json:"enabled"`
	Text     string   `json:"text"`
	Patterns []string `json:"patterns"`
}

func (h *ConfigHandler) PutGreeting(c *gin.Context) {
	var req greetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.cfg.SaveGreeting(req.Enabled, req.Text, req.Patterns); err != nil {
		failConfig(c, err)
		return
	}
	response.OK(c, nil)
}

func (h *ConfigHandler) ListPromptVersions(c *gin.Context) {
	response.OK(c, h.cfg.PromptVersions())
}

type restoreVersionRequest struct {
	Index *int `json:"index" binding:"required"`
}

func (h *ConfigHandler) RestorePromptVersion(c *gin.Context) {
	var req restoreVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	text, err := h.cfg.RestoreVersion(*req.Index)
	if err != nil {
		failConfig(c, err)
		return
	}
	response.OK(c, gin.H{"system_prompt": text})
}

func failConfig(c *gin.Context, err error) {
	switch {
	case errors.Is(err, runtimecfg.ErrEmptyPrompt),
		errors.Is(err, runtimecfg.ErrInvalidTemperature),
		errors.Is(err, runtimecfg.ErrInvalidMaxTokens),
		errors.Is(err, runtimecfg.ErrInvalidTimeout):
		response.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, runtimecfg.ErrVersionOutOfRange):
		response.Fail(c, http.StatusNotFound, err.Error())
	default:
		response.Fail(c, http.StatusInternalServerError, err.Error())
	}
}
