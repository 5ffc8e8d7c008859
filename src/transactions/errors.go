package transactions

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	ErrInvalidTransactionState = errors.New("invalid transaction state")
	ErrStatement               = errors.New("statement failed")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrDatabaseNotFound        = errors.New("database not found")
)

// StatementError is returned by Run when a statement could not be started.
type StatementError struct {
	ID  int
	Err error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d: %v", e.ID, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

func (e *StatementError) Is(target error) bool {
	return target == ErrStatement
}
