package locking

import (
	"context"

	"go.uber.org/multierr"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
)

// StatementLocks gives a transaction two views of its locks. Pessimistic
// locks are taken right away, optimistic ones may be deferred until
// commit.
type StatementLocks interface {
	Pessimistic() Client
	Optimistic() Client

	Initialize(lease LeaseClient, txID common.TxnID, tracker MemoryTracker, cfg ClientConfig)
	// PrepareForCommit makes every optimistic lock real and then prepares
	// the underlying client.
	PrepareForCommit(ctx context.Context, tracer LockTracer) error
	Stop() bool
	Close() error

	ActiveLocks() []ActiveLock
	ActiveLockCount() int
}

type simpleStatementLocks struct {
	client Client
}

var _ StatementLocks = &simpleStatementLocks{}

func NewSimpleStatementLocks(client Client) StatementLocks {
	return &simpleStatementLocks{client: client}
}

func (s *simpleStatementLocks) Pessimistic() Client { return s.client }
func (s *simpleStatementLocks) Optimistic() Client  { return s.client }

func (s *simpleStatementLocks) Initialize(
	lease LeaseClient,
	txID common.TxnID,
	tracker MemoryTracker,
	cfg ClientConfig,
) {
	s.client.Initialize(lease, txID, tracker, cfg)
}

func (s *simpleStatementLocks) PrepareForCommit(context.Context, LockTracer) error {
	return s.client.PrepareForCommit()
}

func (s *simpleStatementLocks) Stop() bool {
	return s.client.Stop()
}

func (s *simpleStatementLocks) Close() error {
	return s.client.Close()
}

func (s *simpleStatementLocks) ActiveLocks() []ActiveLock {
	return s.client.ActiveLocks()
}

func (s *simpleStatementLocks) ActiveLockCount() int {
	return s.client.ActiveLockCount()
}

type deferredStatementLocks struct {
	implicit Client
	explicit *DeferringClient
}

var _ StatementLocks = &deferredStatementLocks{}

func NewDeferredStatementLocks(client Client) StatementLocks {
	return &deferredStatementLocks{
		implicit: client,
		explicit: NewDeferringClient(client),
	}
}

func (s *deferredStatementLocks) Pessimistic() Client { return s.implicit }
func (s *deferredStatementLocks) Optimistic() Client  { return s.explicit }

func (s *deferredStatementLocks) Initialize(
	lease LeaseClient,
	txID common.TxnID,
	tracker MemoryTracker,
	cfg ClientConfig,
) {
	s.implicit.Initialize(lease, txID, tracker, cfg)
	s.explicit.Initialize(lease, txID, tracker, cfg)
}

func (s *deferredStatementLocks) PrepareForCommit(ctx context.Context, tracer LockTracer) error {
	if err := s.explicit.AcquireDeferredLocks(ctx, tracer); err != nil {
		return err
	}
	return s.implicit.PrepareForCommit()
}

func (s *deferredStatementLocks) Stop() bool {
	stopped := s.explicit.Stop()
	return s.implicit.Stop() && stopped
}

func (s *deferredStatementLocks) Close() error {
	return multierr.Append(s.explicit.Close(), s.implicit.Close())
}

// Once the deferred locks are flushed the implicit client owns them, so
// they are not reported twice.
func (s *deferredStatementLocks) ActiveLocks() []ActiveLock {
	if s.explicit.Flushed() {
		return s.implicit.ActiveLocks()
	}
	return append(s.implicit.ActiveLocks(), s.explicit.ActiveLocks()...)
}

func (s *deferredStatementLocks) ActiveLockCount() int {
	if s.explicit.Flushed() {
		return s.implicit.ActiveLockCount()
	}
	return s.implicit.ActiveLockCount() + s.explicit.ActiveLockCount()
}

type FactoryConfig struct {
	// DeferWriteLocks postpones optimistic lock acquisition until commit.
	// Write/write conflicts are then detected only at prepare time.
	DeferWriteLocks bool
}

type StatementLocksFactory struct {
	locks ClientProvider
	cfg   FactoryConfig
}

func NewStatementLocksFactory(locks ClientProvider, cfg FactoryConfig) *StatementLocksFactory {
	return &StatementLocksFactory{
		locks: locks,
		cfg:   cfg,
	}
}

func (f *StatementLocksFactory) Deferred() bool {
	return f.cfg.DeferWriteLocks
}

// NewInstance builds statement locks around a fresh client of the lock
// engine. The result still has to be initialized.
func (f *StatementLocksFactory) NewInstance() StatementLocks {
	client := f.locks.NewClient()
	if f.cfg.DeferWriteLocks {
		return NewDeferredStatementLocks(client)
	}
	return NewSimpleStatementLocks(client)
}
