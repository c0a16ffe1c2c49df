package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	turnLockPrefix = "sales:turn:"
	lockRetry      = 100 * time.Millisecond
)

var ErrLockTimeout = errors.New("timed out waiting for session turn lock")

// unlock only deletes the key when it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DefaultLockTTL outlasts a turn whose reply and summary calls both run to
// the 90s provider timeout.
const DefaultLockTTL = 210 * time.Second

type Store struct {
	rdb     *redis.Client
	lockTTL time.Duration
	log     *zap.Logger
}

func New(addr, password string, db int, lockTTL time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Store{
		rdb:     redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		lockTTL: lockTTL,
		log:     log,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Lock takes the per-session turn lock (SET NX PX), polling until it is free,
// the lock TTL has elapsed or ctx is done. The returned func releases it.
func (s *Store) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := turnLockPrefix + sessionID
	token := uuid.NewString()
	deadline := time.Now().Add(s.lockTTL)

	for {
		ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { s.unlock(key, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}

func (s *Store) unlock(key, token string) {
	// the turn context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := unlockScript.Run(ctx, s.rdb, []string{key}, token).Err(); err != nil {
		s.log.Warn("release turn lock", zap.String("key", key), zap.Error(err))
	}
}
