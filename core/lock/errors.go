package lock

import "errors"

var (
	ErrClientNil   = errors.New("redis client cannot be nil")
	ErrEmptyName   = errors.New("lock name cannot be empty")
	ErrEmptyHolder = errors.New("lock holder cannot be empty")
	ErrTTLTooShort = errors.New("lock ttl is below the minimum")
)
