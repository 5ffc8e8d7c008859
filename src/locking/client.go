package locking

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
)

// ClientConfig holds the per-client knobs handed over on initialization.
type ClientConfig struct {
	// AcquisitionTimeout bounds a single blocking wait. Zero waits forever.
	AcquisitionTimeout time.Duration
	// VerboseDeadlocks makes deadlock errors describe the whole wait cycle.
	VerboseDeadlocks bool
}

// Client acquires and releases shared and exclusive locks on typed
// resources on behalf of a single transaction.
//
// Lifecycle: UNINITIALIZED -> ACTIVE -> [PREPARING] -> STOPPED | CLOSED.
// Initialize must precede any acquisition. After PrepareForCommit a client
// refuses Stop, so only the commit path decides the transaction's fate.
//
// A client is not safe for concurrent lock calls on behalf of the same
// transaction. Stop is the only method that may be called from another
// goroutine while an acquisition blocks.
type Client interface {
	Initialize(lease LeaseClient, txID common.TxnID, tracker MemoryTracker, cfg ClientConfig)

	// AcquireShared blocks until every id is granted in shared mode. It fails
	// with ErrLockAcquisitionTimeout, ErrLockClientStopped or a
	// *DeadlockError.
	AcquireShared(ctx context.Context, tracer LockTracer, rt ResourceType, ids ...ResourceID) error
	AcquireExclusive(ctx context.Context, tracer LockTracer, rt ResourceType, ids ...ResourceID) error

	TryExclusiveLock(rt ResourceType, id ResourceID) (bool, error)
	TrySharedLock(rt ResourceType, id ResourceID) (bool, error)

	ReleaseShared(rt ResourceType, ids ...ResourceID) error
	ReleaseExclusive(rt ResourceType, ids ...ResourceID) error

	HoldsLock(id ResourceID, rt ResourceType, mode LockMode) (bool, error)

	PrepareForCommit() error
	// Stop aborts current waiters and fails subsequent acquisitions.
	// Returns false when the client refused to stop.
	Stop() bool
	// Close releases every held lock. Repeated calls are no-ops.
	Close() error

	TransactionID() common.TxnID
	ActiveLocks() []ActiveLock
	ActiveLockCount() int
}

// ClientProvider hands out fresh lock clients bound to one lock engine.
type ClientProvider interface {
	NewClient() Client
}

// ActiveLock is a diagnostic entry describing one lock a client holds or
// has recorded.
type ActiveLock struct {
	Mode         LockMode
	ResourceType ResourceType
	ResourceID   ResourceID
	TxnID        common.TxnID
}

func (l ActiveLock) Unit() LockUnit {
	return NewLockUnit(l.ResourceType, l.ResourceID, l.Mode.IsExclusive())
}

// LockInfo is what the lock engine reports to a LockVisitor for each held
// lock.
type LockInfo struct {
	Mode          LockMode
	ResourceType  ResourceType
	ResourceID    ResourceID
	TxnID         common.TxnID
	Description   string
	EstimatedWait time.Duration
	ClientID      common.ClientID
}

type LockVisitor func(LockInfo)

type LeaseClient interface {
	LeaseID() int
}

type noLease struct{}

func (noLease) LeaseID() int { return -1 }

// NoLease is the lease of a single instance deployment.
var NoLease LeaseClient = noLease{}

// MemoryTracker accounts heap used by lock bookkeeping.
type MemoryTracker interface {
	AllocateHeap(bytes int64)
	ReleaseHeap(bytes int64)
	UsedHeap() int64
}

type HeapTracker struct {
	used atomic.Int64
}

var _ MemoryTracker = &HeapTracker{}

func NewHeapTracker() *HeapTracker {
	return &HeapTracker{}
}

func (t *HeapTracker) AllocateHeap(bytes int64) {
	t.used.Add(bytes)
}

func (t *HeapTracker) ReleaseHeap(bytes int64) {
	t.used.Add(-bytes)
}

func (t *HeapTracker) UsedHeap() int64 {
	return t.used.Load()
}

type noTracking struct{}

func (noTracking) AllocateHeap(int64) {}
func (noTracking) ReleaseHeap(int64)  {}
func (noTracking) UsedHeap() int64    { return 0 }

var NoTracking MemoryTracker = noTracking{}
