package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/testutil"
)

var errStoreDown = errors.New("store down")

// brokenStore fails the reads it overrides and delegates the rest.
type brokenStore struct {
	Store
	failRecent     bool
	failGuidelines bool
	failSummary    bool
}

func (b brokenStore) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if b.failRecent {
		return nil, errStoreDown
	}
	return b.Store.ListRecentMessages(ctx, sessionID, limit)
}

func (b brokenStore) ListUnusedGuidelines(ctx context.Context, sessionID string, strength chat.Strength) ([]chat.Guideline, error) {
	if b.failGuidelines {
		return nil, errStoreDown
	}
	return b.Store.ListUnusedGuidelines(ctx, sessionID, strength)
}

func (b brokenStore) UpdateSessionSummary(ctx context.Context, id, summary string) error {
	if b.failSummary {
		return errStoreDown
	}
	return b.Store.UpdateSessionSummary(ctx, id, summary)
}

func newRepo(t *testing.T) *chat.Repo {
	t.Helper()
	return chat.NewRepo(testutil.OpenDB(t))
}

func addGuideline(t *testing.T, r *chat.Repo, g chat.Guideline) chat.Guideline {
	t.Helper()
	if g.Title == "" {
		g.Title = "rule"
	}
	if g.Content == "" {
		g.Content = "content of " + g.Title
	}
	require.NoError(t, r.CreateGuideline(context.Background(), &g))
	return g
}

func newSession(t *testing.T, r *chat.Repo) string {
	t.Helper()
	s, err := r.CreateSession(context.Background())
	require.NoError(t, err)
	return s.ID
}
