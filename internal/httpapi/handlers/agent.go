package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/uptail/sales-agent/internal/agent"
	"github.com/uptail/sales-agent/internal/ai"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/common"
	"github.com/uptail/sales-agent/internal/httpapi/middleware"
	"github.com/uptail/sales-agent/internal/jobs"
	"go.uber.org/zap"
)

type respondReq struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (r respondReq) turn() agent.TurnRequest {
	return agent.TurnRequest{SessionID: strings.TrimSpace(r.SessionID), Message: r.Message}
}

func bindRespond(c *gin.Context) (respondReq, bool) {
	var req respondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, codeMissingField, "message is required")
		return req, false
	}
	return req, true
}

// Respond runs one turn synchronously.
func (h *Handler) Respond(c *gin.Context) {
	req, ok := bindRespond(c)
	if !ok {
		return
	}

	res, err := h.Pipeline.Respond(c.Request.Context(), req.turn())
	if err != nil {
		h.pipelineError(c, err)
		return
	}
	common.OK(c, res)
}

func (h *Handler) RespondUsage(c *gin.Context) {
	common.OK(c, gin.H{
		"endpoint": "POST /agent/respond",
		"body": gin.H{
			"session_id": "optional; a new session is created when absent or unknown",
			"message":    "required; the user's message",
		},
		"returns": []string{"session_id", "reply", "hard_guidelines_used", "soft_guidelines_used"},
	})
}

func (h *Handler) pipelineError(c *gin.Context, err error) {
	var pe *agent.PipelineError
	stage := ""
	if errors.As(err, &pe) {
		stage = string(pe.Stage)
	}
	h.Log.Error("respond failed",
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("stage", stage),
		zap.Error(err),
	)
	if ai.IsCallError(err) {
		common.Fail(c, http.StatusBadGateway, codeUpstreamFailed, err.Error())
		return
	}
	common.Fail(c, http.StatusInternalServerError, codePipelineFailed, err.Error())
}

// RespondAsync queues a turn and returns the job id. An Idempotency-Key
// header makes retries return the first job.
func (h *Handler) RespondAsync(c *gin.Context) {
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, codeAsyncDisabled, "async turns are not configured")
		return
	}
	req, ok := bindRespond(c)
	if !ok {
		return
	}

	j, created, err := h.Jobs.Submit(c.Request.Context(), req.turn(), c.GetHeader("Idempotency-Key"))
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrIdempotencyKeyTooLong):
			common.Fail(c, http.StatusBadRequest, codeIdempotencyTooLong, "idempotency key too long")
		case errors.Is(err, agent.ErrSessionUnavailable):
			h.internalError(c, "resolve session", err)
		default:
			h.Log.Error("enqueue turn", zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, codeEnqueueFailed, "enqueue failed")
		}
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"code":    0,
		"message": "ok",
		"data":    gin.H{"job_id": j.ID, "session_id": j.SessionID, "status": j.Status},
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, codeAsyncDisabled, "async turns are not configured")
		return
	}
	j, err := h.Jobs.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if chat.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, codeJobNotFound, "job not found")
			return
		}
		h.internalError(c, "get job", err)
		return
	}
	common.OK(c, gin.H{"job": j})
}
