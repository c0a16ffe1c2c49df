package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/common"
)

// ListSessions returns every session with its messages; ?stats=true returns
// aggregate statistics instead.
func (h *Handler) ListSessions(c *gin.Context) {
	if stats, _ := strconv.ParseBool(c.Query("stats")); stats {
		st, err := h.Chat.Statistics(c.Request.Context())
		if err != nil {
			h.internalError(c, "session statistics", err)
			return
		}
		common.OK(c, st)
		return
	}

	sessions, err := h.Chat.ListSessions(c.Request.Context())
	if err != nil {
		h.internalError(c, "list sessions", err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (h *Handler) CreateSession(c *gin.Context) {
	s, err := h.Chat.CreateSession(c.Request.Context())
	if err != nil {
		h.internalError(c, "create session", err)
		return
	}
	common.Created(c, gin.H{"session_id": s.ID, "session": s})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	s, err := h.Chat.DeleteSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if chat.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, codeSessionNotFound, "session not found")
			return
		}
		h.internalError(c, "delete session", err)
		return
	}
	common.OK(c, gin.H{"deleted": s.ID})
}

type bulkDeleteReq struct {
	IDs []string `json:"ids"`
}

func (h *Handler) DeleteSessions(c *gin.Context) {
	var req bulkDeleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	if len(req.IDs) == 0 {
		common.Fail(c, http.StatusBadRequest, codeMissingField, "ids must be a non-empty array")
		return
	}
	n, err := h.Chat.DeleteSessions(c.Request.Context(), req.IDs)
	if err != nil {
		h.internalError(c, "delete sessions", err)
		return
	}
	common.OK(c, gin.H{"deleted_count": n})
}

func (h *Handler) ListMessages(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.Chat.GetSession(c.Request.Context(), sessionID); err != nil {
		if chat.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, codeSessionNotFound, "session not found")
			return
		}
		h.internalError(c, "get session", err)
		return
	}
	msgs, err := h.Chat.ListMessages(c.Request.Context(), sessionID)
	if err != nil {
		h.internalError(c, "list messages", err)
		return
	}
	common.OK(c, gin.H{"session_id": sessionID, "messages": msgs, "count": len(msgs)})
}

type appendMessageReq struct {
	Role    string `json:"role"`
	Content string `json:"content" binding:"required"`
}

func (h *Handler) AppendMessage(c *gin.Context) {
	var req appendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}

	m, err := h.Chat.AppendMessage(c.Request.Context(), c.Param("id"), chat.Role(req.Role), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidRole):
			common.Fail(c, http.StatusBadRequest, codeInvalidRole, err.Error())
		case chat.IsNotFound(err):
			common.Fail(c, http.StatusNotFound, codeSessionNotFound, "session not found")
		default:
			h.internalError(c, "append message", err)
		}
		return
	}
	common.Created(c, m)
}

func (h *Handler) ListSessionUsage(c *gin.Context) {
	usages, err := h.Chat.ListUsageBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internalError(c, "list usage", err)
		return
	}
	common.OK(c, gin.H{"usages": usages, "count": len(usages)})
}

func (h *Handler) GetUsage(c *gin.Context) {
	u, err := h.Chat.GetUsage(c.Request.Context(), c.Param("usage_id"))
	if err != nil {
		if chat.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, codeUsageNotFound, "guideline usage not found")
			return
		}
		h.internalError(c, "get usage", err)
		return
	}
	// the usage must belong to the session in the path
	if u.SessionID != c.Param("id") {
		common.Fail(c, http.StatusNotFound, codeUsageNotFound, "guideline usage not found")
		return
	}
	common.OK(c, u)
}

func (h *Handler) ListMessageUsage(c *gin.Context) {
	usages, err := h.Chat.ListUsageByMessage(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		h.internalError(c, "list usage", err)
		return
	}
	common.OK(c, gin.H{"usages": usages, "count": len(usages)})
}
