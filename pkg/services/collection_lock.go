package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sop-rules-engine/pkg/apperrors"
)

// CollectionLock gives one writer at a time exclusive access to an SOP's
// rule collection. Every load-mutate-persist cycle runs under it.
type CollectionLock interface {
	// Lock blocks until the SOP is free or ctx is done. The returned
	// function releases the lock and must be called exactly once.
	Lock(ctx context.Context, sopID uuid.UUID) (func(), error)
}

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

const (
	lockKeyPrefix    = "sop-rules:collection-lock:"
	lockPollInterval = 100 * time.Millisecond
)

type collectionLock struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}

	redis  redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCollectionLock creates a lock. With a nil client only writers in this
// process are serialized; with Redis, writers across processes are too.
func NewCollectionLock(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) CollectionLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &collectionLock{
		slots:  make(map[uuid.UUID]chan struct{}),
		redis:  client,
		ttl:    ttl,
		logger: logger.Named("collection-lock"),
	}
}

func (l *collectionLock) slot(sopID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[sopID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[sopID] = ch
	}
	return ch
}

func (l *collectionLock) Lock(ctx context.Context, sopID uuid.UUID) (func(), error) {
	ch := l.slot(sopID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCollectionBusy, ctx.Err())
	}
	var localOnce sync.Once
	local := func() { localOnce.Do(func() { <-ch }) }

	if l.redis == nil {
		return local, nil
	}

	token := uuid.NewString()
	key := lockKeyPrefix + sopID.String()
	if err := l.acquireRemote(ctx, key, token); err != nil {
		local()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must not depend on the caller's context, which may be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.redis, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release collection lock",
					zap.String("sop_id", sopID.String()),
					zap.Error(err))
			}
			local()
		})
	}, nil
}

func (l *collectionLock) acquireRemote(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire collection lock: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", apperrors.ErrCollectionBusy, ctx.Err())
		}
	}
}
