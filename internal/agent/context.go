package agent

import (
	"context"
	"fmt"

	"github.com/uptail/sales-agent/internal/ai"
	"github.com/uptail/sales-agent/internal/chat"
	"golang.org/x/sync/errgroup"
)

const defaultContextWindow = 4

// TurnContext is what the prompt builder knows about the conversation.
type TurnContext struct {
	SessionID      string
	Message        string
	SessionSummary string // empty when the session has none
	// RecentMessages is chronological: oldest first.
	RecentMessages []ai.Message
}

type ContextGatherer struct {
	store  Store
	window int
}

func NewContextGatherer(store Store, window int) *ContextGatherer {
	if window <= 0 {
		window = defaultContextWindow
	}
	return &ContextGatherer{store: store, window: window}
}

// Gather reads the stored summary and the last few messages concurrently.
// A session that does not exist simply has no summary.
func (g *ContextGatherer) Gather(ctx context.Context, sessionID, message string) (*TurnContext, error) {
	var (
		summary string
		recent  []chat.Message
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s, err := g.store.GetSession(egCtx, sessionID)
		if err != nil {
			if chat.IsNotFound(err) {
				return nil
			}
			return err
		}
		if s.Summary != nil {
			summary = *s.Summary
		}
		return nil
	})
	eg.Go(func() error {
		msgs, err := g.store.ListRecentMessages(egCtx, sessionID, g.window)
		if err != nil {
			return err
		}
		recent = msgs
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContextUnavailable, err)
	}

	return &TurnContext{
		SessionID:      sessionID,
		Message:        message,
		SessionSummary: summary,
		RecentMessages: chronological(recent),
	}, nil
}

// chronological converts a newest-first page into model messages, oldest first.
func chronological(msgs []chat.Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, ai.Message{Role: string(msgs[i].Role), Content: msgs[i].Content})
	}
	return out
}
