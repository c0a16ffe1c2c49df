package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uptail/sales-agent/internal/agent"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/common"
	"github.com/uptail/sales-agent/internal/httpapi/middleware"
	"github.com/uptail/sales-agent/internal/jobs"
	"go.uber.org/zap"
)

// Business error codes.
const (
	codeInvalidJSON        = 10001
	codeMissingField       = 10002
	codeIdempotencyTooLong = 10003
	codeInvalidRole        = 10004
	codeInvalidGuideline   = 10005
	codeInvalidQuery       = 10006

	codeSessionNotFound   = 40401
	codeJobNotFound       = 40402
	codeGuidelineNotFound = 40403
	codeUsageNotFound     = 40404

	codeInternal       = 50001
	codeEnqueueFailed  = 50002
	codePipelineFailed = 50003
	codeUpstreamFailed = 50201
	codeAsyncDisabled  = 50301
)

type Handler struct {
	Chat     *chat.Service
	Pipeline *agent.Pipeline
	// Jobs is nil when no broker is configured; async endpoints then answer 503.
	Jobs *jobs.Service
	Log  *zap.Logger
}

func NewHandler(svc *chat.Service, pipeline *agent.Pipeline, jobSvc *jobs.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Chat: svc, Pipeline: pipeline, Jobs: jobSvc, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// internalError logs err with the request id and answers with a generic 500.
func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.Log.Error(op,
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	)
	common.Fail(c, http.StatusInternalServerError, codeInternal, "internal error")
}
