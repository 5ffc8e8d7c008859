package kernel

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/GraphTxn/src/locking"
)

// Status is the reason a transaction got terminated.
type Status int

const (
	StatusNone Status = iota
	StatusTerminated
	StatusTransactionTimedOut
	StatusDeadlockDetected
	StatusDatabaseShutdown
	StatusLockClientStopped
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusTerminated:
		return "Transaction.Terminated"
	case StatusTransactionTimedOut:
		return "Transaction.TransactionTimedOut"
	case StatusDeadlockDetected:
		return "Transaction.DeadlockDetected"
	case StatusDatabaseShutdown:
		return "General.DatabaseUnavailable"
	case StatusLockClientStopped:
		return "Transaction.LockClientStopped"
	}
	return "Unknown"
}

// StatusFromError picks the termination status matching a lock or
// context failure.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusNone
	case errors.Is(err, locking.ErrDeadlockDetected):
		return StatusDeadlockDetected
	case errors.Is(err, locking.ErrLockClientStopped):
		return StatusLockClientStopped
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTransactionTimedOut
	case errors.Is(err, context.Canceled):
		return StatusTerminated
	}
	return StatusNone
}

// TerminatedError reports use of a handle that was marked for termination.
type TerminatedError struct {
	Status Status
}

func (e *TerminatedError) Error() string {
	return "transaction has been terminated: " + e.Status.String()
}

var ErrTerminated = errors.New("transaction terminated")

func (e *TerminatedError) Is(target error) bool {
	return target == ErrTerminated
}
