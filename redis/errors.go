package redis

import (
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrBackingStoreUnavailable is returned by every operation when the store
	// connection was never established, has been closed or is currently lost.
	// It is not retried by this package.
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")

	// ErrStoreCommand is a reply error from the store itself, e.g. WRONGTYPE.
	ErrStoreCommand = errors.New("backing store command error")

	// ErrLockContention means the lock was already held. It is an expected
	// condition, callers wanting to wait compose their own backoff.
	ErrLockContention = errors.New("lock contention")

	ErrInvalidArgument = errors.New("invalid argument")
)

func UnavailableError(err error, name string) error {
	return fmt.Errorf("%w %s: %w", ErrBackingStoreUnavailable, name, err)
}

func ContentionError(resource string) error {
	return fmt.Errorf("%w: %s", ErrLockContention, resource)
}

func InvalidArgumentError(name string, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidArgument, name, reason)
}

// storeError classifies an error returned by go-redis. redis.Nil (a miss) is
// not an error at this level and must be handled by the caller before this is
// called. Reply errors from the server are command errors, anything else means
// we could not talk to the store.
func storeError(err error, name string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackingStoreUnavailable) || errors.Is(err, ErrStoreCommand) {
		return err
	}
	if isReplyError(err) {
		return fmt.Errorf("%w %s: %w", ErrStoreCommand, name, err)
	}
	return fmt.Errorf("%w %s: %w", ErrBackingStoreUnavailable, name, err)
}

func isReplyError(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && !errors.Is(err, redis.Nil)
}
