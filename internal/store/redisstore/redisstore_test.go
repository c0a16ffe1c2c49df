package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptail/sales-agent/internal/config"
)

// Needs a live server: REDIS_TEST_ADDR=127.0.0.1:6379 go test ./internal/store/redisstore
func testStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s := New(addr, "", 0, ttl, nil)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(context.Background()))
	return s
}

func TestLock_SerializesSameSession(t *testing.T) {
	s := testStore(t, 300*time.Millisecond)
	ctx := context.Background()
	sid := "lock-test-" + time.Now().Format("150405.000000")

	unlock, err := s.Lock(ctx, sid)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		unlock()
		close(released)
	}()

	unlock2, err := s.Lock(ctx, sid)
	require.NoError(t, err)
	<-released
	unlock2()
}

func TestLock_TimesOut(t *testing.T) {
	s := testStore(t, 200*time.Millisecond)
	ctx := context.Background()
	sid := "lock-timeout-" + time.Now().Format("150405.000000")

	unlock, err := s.Lock(ctx, sid)
	require.NoError(t, err)
	defer unlock()

	// the first holder's key expires with the TTL, so a waiter either wins
	// after expiry or times out; it must not block past the deadline
	done := make(chan struct{})
	go func() {
		u, err := s.Lock(ctx, sid)
		if err == nil {
			u()
		}
		assert.True(t, err == nil || errors.Is(err, ErrLockTimeout), "unexpected error: %v", err)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock waiter did not return")
	}
}

func TestLock_RespectsContext(t *testing.T) {
	s := testStore(t, time.Minute)
	sid := "lock-ctx-" + time.Now().Format("150405.000000")

	unlock, err := s.Lock(context.Background(), sid)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, sid)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_DefaultLockTTLCoversWorstCaseTurn(t *testing.T) {
	s := New("127.0.0.1:0", "", 0, 0, nil)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, DefaultLockTTL, s.lockTTL)
	assert.Greater(t, s.lockTTL, 2*90*time.Second)
	assert.Equal(t, config.MinTurnLockTTL(90*time.Second), DefaultLockTTL)
}
