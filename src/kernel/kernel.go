// Package kernel describes the execution engine a transaction runs on:
// databases that begin low-level transaction handles, the handles
// themselves and the results their statements produce.
package kernel

import (
	"context"
	"time"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/optional"
)

type AccessMode int

const (
	AccessWrite AccessMode = iota
	AccessRead
)

func (m AccessMode) String() string {
	if m == AccessRead {
		return "READ"
	}
	return "WRITE"
}

type TransactionType int

const (
	TransactionExplicit TransactionType = iota
	TransactionImplicit
)

func (t TransactionType) String() string {
	if t == TransactionImplicit {
		return "IMPLICIT"
	}
	return "EXPLICIT"
}

// Bookmark marks the commit position of a transaction.
type Bookmark string

type BeginRequest struct {
	Type       TransactionType
	AccessMode AccessMode
	// Bookmarks the new transaction must observe.
	Bookmarks        []Bookmark
	Timeout          time.Duration
	Metadata         map[string]any
	ImpersonatedUser string

	// OnTermination is invoked once when the handle gets marked for
	// termination by anyone but its owner.
	OnTermination func(Status)
}

type Database interface {
	Name() string
	Begin(ctx context.Context, req BeginRequest) (Handle, error)
}

// Handle is one low-level transaction of the execution engine.
type Handle interface {
	ID() int64

	Execute(ctx context.Context, text string, params map[string]any) (Result, error)
	// Commit makes the writes durable. A failed commit leaves the handle
	// rolled back.
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
	// Bookmark is the commit position of the last successful commit.
	Bookmark() Bookmark

	// MarkForTermination reports whether the mark was set by this call.
	MarkForTermination(reason Status) bool
	ReasonIfTerminated() optional.Optional[Status]

	Metadata() map[string]any
	ImpersonatedUser() string
}

type Record map[string]any

type Result interface {
	Columns() []string
	HasNext() bool
	Next() (Record, bool)
	Close()
}
