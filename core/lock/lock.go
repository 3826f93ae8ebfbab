package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/pkg/keyspace"
)

// MinTTL is the shortest lock lifetime accepted by TryLock.
const MinTTL = 100 * time.Millisecond

var (
	// KEYS: lock. ARGV: holder, ttl in milliseconds.
	// Acquire when free, renew when held by the same holder, fail otherwise.
	tryLockScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
if current then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

	// KEYS: lock. ARGV: holder.
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// Store manages named distributed locks in Redis.
// Ownership is proven by the holder value stored under the lock key.
type Store struct {
	client redis.UniversalClient
	ns     keyspace.Namer
}

// NewStore creates a lock store for the namespace.
func NewStore(client redis.UniversalClient, namespace string) (*Store, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	return &Store{client: client, ns: keyspace.New(namespace)}, nil
}

// NewHolder returns a random holder value.
func NewHolder() string {
	return uuid.NewString()
}

// TryLock acquires the lock for holder, or renews it when holder already owns it.
// It returns false when another holder owns the lock.
func (s *Store) TryLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	if err := validate(name, holder); err != nil {
		return false, err
	}
	if ttl < MinTTL {
		return false, fmt.Errorf("%w: %s < %s", ErrTTLTooShort, ttl, MinTTL)
	}

	acquired, err := tryLockScript.Run(ctx, s.client,
		[]string{s.key(name)},
		holder, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}
	return acquired == 1, nil
}

// Release deletes the lock only if holder owns it. Releasing a lock owned by
// someone else, or an expired lock, is a no-op.
func (s *Store) Release(ctx context.Context, name, holder string) error {
	if err := validate(name, holder); err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.key(name)}, holder).Err(); err != nil {
		return fmt.Errorf("failed to release lock %q: %w", name, err)
	}
	return nil
}

// Holder returns the current owner of the lock, or an empty string when it is free.
func (s *Store) Holder(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	v, err := s.client.Get(ctx, s.key(name)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lock %q: %w", name, err)
	}
	return v, nil
}

func (s *Store) key(name string) string {
	return s.ns.Key("lock", name)
}

func validate(name, holder string) error {
	if name == "" {
		return ErrEmptyName
	}
	if holder == "" {
		return ErrEmptyHolder
	}
	return nil
}
