package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
)

// Locker guards a critical section per key so that concurrent bookings for
// the same therapist slot cannot both pass the conflict check.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// BookingLockKey is the lock key for one therapist hour on one date.
func BookingLockKey(therapistID uuid.UUID, date time.Time, hour int) string {
	return fmt.Sprintf("lock:therapist:%s:%s:%02d", therapistID, date.Format(schedule.DateLayout), hour)
}

// BookingLockKeys returns one key per clock hour that start-end touches, in
// ascending order. An end exactly on the hour does not take that hour.
func BookingLockKeys(therapistID uuid.UUID, date time.Time, start, end string) []string {
	from := schedule.HourOf(start)
	to := from
	if m, err := schedule.ParseClock(end); err == nil && m > 0 {
		to = max((m-1)/60, from)
	}

	keys := make([]string, 0, to-from+1)
	for h := from; h <= to; h++ {
		keys = append(keys, BookingLockKey(therapistID, date, h))
	}
	return keys
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker that holds one Redis key per critical section.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire booking lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// release deletes the key only if it still holds our token, so a lock that
// expired and was taken by someone else is left alone.
func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	return nil
}
