package repairs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
)

// Sequence bounds for the NNNN part of an order number.
const (
	// FirstSequence is the sequence given to the first order of a year.
	FirstSequence = 1000
	// LastSequence is the highest sequence that fits in four digits.
	LastSequence = 9999
)

const numberLockKey = "repairs:lock:order-number"

// NextSequence returns the sequence that follows max, the highest sequence
// already used this year (zero when none).
func NextSequence(max int) int {
	if max < FirstSequence {
		return FirstSequence
	}
	return max + 1
}

// NumberLock serialises order-number allocation across instances. It narrows
// the race window only; the unique constraint and the collision retry remain
// in charge of correctness.
type NumberLock interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// RedisNumberLock implements NumberLock with bsm/redislock.
type RedisNumberLock struct {
	locker *redislock.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisNumberLock builds a lock over client. A non-positive ttl defaults
// to five seconds.
func NewRedisNumberLock(client redislock.RedisClient, ttl time.Duration, logger *slog.Logger) *RedisNumberLock {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNumberLock{locker: redislock.New(client), ttl: ttl, logger: logger}
}

// Acquire obtains the allocation lock, retrying briefly. When the lock cannot
// be obtained the caller proceeds unlocked.
func (l *RedisNumberLock) Acquire(ctx context.Context) (func(), error) {
	opts := &redislock.Options{RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20)}
	lock, err := l.locker.Obtain(ctx, numberLockKey, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		l.logger.Warn("order number lock not obtained; proceeding without lock")
		return func() {}, nil
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("release order number lock", slog.Any("error", err))
		}
	}, nil
}
