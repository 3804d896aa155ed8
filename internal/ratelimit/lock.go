package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Release only deletes the key when the stored token still matches, so a
// holder whose lock already expired cannot release a successor's lock.
const commandUnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// CommandLocker serializes availability round trips per connector across
// replicas. A lock is held for at most the TTL; a charge point that never
// answers does not wedge its connector.
type CommandLocker struct {
	client *redis.Client
	unlock *redis.Script
}

func NewCommandLocker(client *redis.Client) *CommandLocker {
	if client == nil {
		return nil
	}
	return &CommandLocker{
		client: client,
		unlock: redis.NewScript(commandUnlockScript),
	}
}

// TryLock attempts to take the lock at key for ttl. When acquired it
// returns the holder token required to release.
func (l *CommandLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("command lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("command lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("command lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release frees the lock at key when token still holds it. Releasing an
// expired or foreign lock is a no-op.
func (l *CommandLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.unlock.Run(ctx, l.client, []string{key}, token).Err()
}
