package agent

import (
	"context"

	"github.com/uptail/sales-agent/internal/chat"
)

// Store is the persistence port shared by every pipeline component.
// *chat.Repo satisfies it.
type Store interface {
	GetSession(ctx context.Context, id string) (*chat.Session, error)
	CreateSession(ctx context.Context) (*chat.Session, error)
	UpdateSessionSummary(ctx context.Context, id, summary string) error

	InsertMessage(ctx context.Context, m *chat.Message) error
	// ListRecentMessages returns newest -> oldest.
	ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)

	ListUnusedGuidelines(ctx context.Context, sessionID string, strength chat.Strength) ([]chat.Guideline, error)
	CreateUsage(ctx context.Context, u *chat.GuidelineUsage) (bool, error)
}

// TurnLocker serializes turns of one session across processes.
type TurnLocker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

var _ Store = (*chat.Repo)(nil)
