package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/common"
)

func (h *Handler) ListGuidelines(c *gin.Context) {
	gs, err := h.Chat.ListGuidelines(c.Request.Context())
	if err != nil {
		h.internalError(c, "list guidelines", err)
		return
	}
	common.OK(c, gin.H{"guidelines": gs, "count": len(gs)})
}

func (h *Handler) GetGuideline(c *gin.Context) {
	g, err := h.Chat.GetGuideline(c.Request.Context(), c.Param("id"))
	if err != nil {
		if chat.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, codeGuidelineNotFound, "guideline not found")
			return
		}
		h.internalError(c, "get guideline", err)
		return
	}
	common.OK(c, g)
}

// SearchGuidelines accepts strength, priority_min, priority_max, triggers
// (comma separated), active, single_use and limit.
func (h *Handler) SearchGuidelines(c *gin.Context) {
	q, err := parseGuidelineQuery(c)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, codeInvalidQuery, err.Error())
		return
	}
	gs, err := h.Chat.SearchGuidelines(c.Request.Context(), q)
	if err != nil {
		h.internalError(c, "search guidelines", err)
		return
	}
	common.OK(c, gin.H{"guidelines": gs, "count": len(gs), "query": q})
}

type queryError string

func (e queryError) Error() string { return string(e) }

func parseGuidelineQuery(c *gin.Context) (chat.GuidelineQuery, error) {
	var q chat.GuidelineQuery

	if v := strings.TrimSpace(c.Query("strength")); v != "" {
		s := chat.Strength(strings.ToLower(v))
		if s != chat.StrengthHard && s != chat.StrengthSoft {
			return q, queryError("strength must be hard or soft")
		}
		q.Strength = &s
	}
	for name, dst := range map[string]**int{"priority_min": &q.PriorityMin, "priority_max": &q.PriorityMax} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return q, queryError(name + " must be an integer")
			}
			*dst = &n
		}
	}
	for name, dst := range map[string]**bool{"active": &q.Active, "single_use": &q.SingleUse} {
		if v := c.Query(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return q, queryError(name + " must be a boolean")
			}
			*dst = &b
		}
	}
	if v := c.Query("triggers"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.Triggers = append(q.Triggers, t)
			}
		}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, queryError("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}

type createGuidelineReq struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Strength  string   `json:"strength"`
	Priority  int      `json:"priority"`
	Triggers  []string `json:"triggers"`
	Active    *bool    `json:"active"`
	SingleUse bool     `json:"single_use"`
}

func (h *Handler) CreateGuideline(c *gin.Context) {
	var req createGuidelineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}

	g := &chat.Guideline{
		Title:     strings.TrimSpace(req.Title),
		Content:   strings.TrimSpace(req.Content),
		Strength:  chat.Strength(strings.ToLower(strings.TrimSpace(req.Strength))),
		Priority:  req.Priority,
		Triggers:  req.Triggers,
		Active:    req.Active == nil || *req.Active,
		SingleUse: req.SingleUse,
	}
	if err := h.Chat.ValidateGuideline(g); err != nil {
		common.Fail(c, http.StatusBadRequest, codeInvalidGuideline, err.Error())
		return
	}
	if err := h.Chat.CreateGuideline(c.Request.Context(), g); err != nil {
		h.internalError(c, "create guideline", err)
		return
	}
	common.Created(c, g)
}
