package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptail/sales-agent/internal/chat"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHardCount = 2
	DefaultSoftCount = 2
)

// Selection holds the guidelines chosen for one turn, each list in
// catalogue order.
type Selection struct {
	Hard []chat.Guideline
	Soft []chat.Guideline
}

func (s Selection) HardIDs() []string { return guidelineIDs(s.Hard) }
func (s Selection) SoftIDs() []string { return guidelineIDs(s.Soft) }

func guidelineIDs(gs []chat.Guideline) []string {
	ids := make([]string, 0, len(gs))
	for _, g := range gs {
		ids = append(ids, g.ID)
	}
	return ids
}

type GuidelineSelector struct {
	store Store
}

func NewGuidelineSelector(store Store) *GuidelineSelector {
	return &GuidelineSelector{store: store}
}

// SelectApplicable picks up to hardCount hard and softCount soft guidelines
// that are active, unused in the session and triggered by message.
func (s *GuidelineSelector) SelectApplicable(ctx context.Context, sessionID, message string, hardCount, softCount int) (Selection, error) {
	var sel Selection

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		gs, err := s.pick(egCtx, sessionID, message, chat.StrengthHard, hardCount)
		sel.Hard = gs
		return err
	})
	eg.Go(func() error {
		gs, err := s.pick(egCtx, sessionID, message, chat.StrengthSoft, softCount)
		sel.Soft = gs
		return err
	})
	if err := eg.Wait(); err != nil {
		return Selection{}, fmt.Errorf("%w: %w", ErrGuidelineSelection, err)
	}
	return sel, nil
}

func (s *GuidelineSelector) pick(ctx context.Context, sessionID, message string, strength chat.Strength, limit int) ([]chat.Guideline, error) {
	out := make([]chat.Guideline, 0, max(limit, 0))
	if limit <= 0 {
		return out, nil
	}
	candidates, err := s.store.ListUnusedGuidelines(ctx, sessionID, strength)
	if err != nil {
		return nil, err
	}
	for _, g := range candidates {
		if !MatchesTriggers(g.Triggers, message) {
			continue
		}
		out = append(out, g)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MatchesTriggers reports whether message contains any trigger, ignoring
// case. A guideline without triggers always matches.
func MatchesTriggers(triggers []string, message string) bool {
	if len(triggers) == 0 {
		return true
	}
	msg := strings.ToLower(message)
	for _, t := range triggers {
		if strings.Contains(msg, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
