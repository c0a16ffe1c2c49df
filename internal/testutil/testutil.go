// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptail/sales-agent/internal/ai"
	"github.com/uptail/sales-agent/internal/db"
	"gorm.io/gorm"
)

// OpenDB returns a migrated sqlite database private to the test.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := db.Open("sqlite:"+filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// FakeProvider answers through Respond and records every request.
// A nil Respond replies "ok".
type FakeProvider struct {
	Respond func(req ai.ChatRequest) (string, error)

	mu    sync.Mutex
	calls []ai.ChatRequest
}

func (p *FakeProvider) Chat(_ context.Context, req ai.ChatRequest) (ai.ChatResponse, error) {
	p.mu.Lock()
	req.Messages = append([]ai.Message(nil), req.Messages...)
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.Respond == nil {
		return ai.ChatResponse{Content: "ok"}, nil
	}
	out, err := p.Respond(req)
	if err != nil {
		return ai.ChatResponse{}, err
	}
	return ai.ChatResponse{Content: out}, nil
}

func (p *FakeProvider) Embed(context.Context, string) ([]float64, error) {
	return []float64{0}, nil
}

func (p *FakeProvider) Calls() []ai.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ai.ChatRequest(nil), p.calls...)
}
