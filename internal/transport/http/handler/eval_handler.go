package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tiendabot/internal/eval"
	"tiendabot/internal/transport/http/response"
)

type EvalHandler struct {
	runner *eval.Runner
}

func NewEvalHandler(runner *eval.Runner) *EvalHandler {
	return &EvalHandler{runner: runner}
}

func (h *EvalHandler) List(c *gin.Context) {
	cases, err := h.runner.List()
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.OK(c, cases)
}

type addCaseRequest struct {
	Name           string   `json:"name" binding:"required"`
	UserMessage    string   `json:"user_message" binding:"required"`
	PromptContext  string   `json:"prompt_context"`
	MustContain    []string `json:"must_contain"`
	MustNotContain []string `json:"must_not_contain"`
	JudgeCriteria  string   `json:"judge_criteria"`
}

func (h *EvalHandler) Add(c *gin.Context) {
	var req addCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.runner.Add(eval.Case{
		Name:           req.Name,
		UserMessage:    req.UserMessage,
		PromptContext:  req.PromptContext,
		MustContain:    req.MustContain,
		MustNotContain: req.MustNotContain,
		JudgeCriteria:  req.JudgeCriteria,
	})
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Created(c, created)
}

func (h *EvalHandler) Delete(c *gin.Context) {
	if err := h.runner.Delete(c.Param("id")); err != nil {
		if errors.Is(err, eval.ErrCaseNotFound) {
			response.Fail(c, http.StatusNotFound, err.Error())
			return
		}
		response.Fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.OK(c, nil)
}

func (h *EvalHandler) RunOne(c *gin.Context) {
	result, err := h.runner.RunSingle(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, eval.ErrCaseNotFound) {
			response.Fail(c, http.StatusNotFound, err.Error())
			return
		}
		response.Fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.OK(c, result)
}

func (h *EvalHandler) RunAll(c *gin.Context) {
	results, err := h.runner.RunAll(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	response.OK(c, gin.H{
		"total":   len(results),
		"passed":  passed,
		"failed":  len(results) - passed,
		"results": results,
	})
}
