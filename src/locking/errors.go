package locking

import (
	"github.com/go-faster/errors"
)

var (
	ErrLockAcquisitionTimeout = errors.New("lock acquisition timeout")
	ErrLockClientStopped      = errors.New("lock client stopped")
	ErrIllegalLockRelease     = errors.New("illegal lock release")
	ErrDeadlockDetected       = errors.New("deadlock detected")
	ErrInvalidClientState     = errors.New("invalid lock client state")
	ErrLocksAlreadyFlushed    = errors.New("deferred locks already flushed")

	// ErrUnsupportedOperation is returned by clients that cannot truthfully
	// answer whether a lock is held right now. Getting it is a programming
	// error on the caller side.
	ErrUnsupportedOperation = errors.New("unsupported lock client operation")
)

// DeadlockError is reported by the lock engine when waiting for a lock would
// close a wait cycle. SameThread marks the case where the waiter blocks on a
// client that is committing on the very goroutine that issued the request.
type DeadlockError struct {
	Message    string
	SameThread bool
}

func (e *DeadlockError) Error() string {
	return "deadlock detected: " + e.Message
}

func (e *DeadlockError) Is(target error) bool {
	return target == ErrDeadlockDetected
}

// IsSameThreadDeadlock reports whether err is a deadlock between a committing
// transaction and its own commit-time callbacks.
func IsSameThreadDeadlock(err error) bool {
	var de *DeadlockError
	return errors.As(err, &de) && de.SameThread
}

// IllegalRelease reports a release of a lock unit the client does not track.
func IllegalRelease(unit LockUnit) error {
	return errors.Wrapf(ErrIllegalLockRelease, "%s is not held", unit)
}
