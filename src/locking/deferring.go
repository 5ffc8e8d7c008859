package locking

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/google/btree"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/assert"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
)

// approximate heap cost of one tracked lock unit
const lockEntrySize = 64

type lockEntry struct {
	unit  LockUnit
	count int
}

func (e *lockEntry) Less(than btree.Item) bool {
	return e.unit.Less(than.(*lockEntry).unit)
}

// DeferringClient records lock requests locally instead of taking them
// from the delegate. Conflicts with other transactions therefore surface
// only when AcquireDeferredLocks hands the recorded units to the delegate
// at prepare time.
//
// The local table is not synchronized. It must only be used from the
// goroutine that owns the transaction. Stop may come from anywhere.
type DeferringClient struct {
	delegate Client
	tracker  MemoryTracker
	txID     common.TxnID

	locks   *btree.BTree
	flushed bool
	stopped atomic.Bool
}

var _ Client = &DeferringClient{}

func NewDeferringClient(delegate Client) *DeferringClient {
	return &DeferringClient{
		delegate: delegate,
		tracker:  NoTracking,
		txID:     common.NilTxnID,
		locks:    btree.New(8),
	}
}

// Initialize resets the local bookkeeping. The delegate is initialized by
// whoever owns it.
func (c *DeferringClient) Initialize(_ LeaseClient, txID common.TxnID, tracker MemoryTracker, _ ClientConfig) {
	c.releaseTable()
	if tracker == nil {
		tracker = NoTracking
	}
	c.tracker = tracker
	c.txID = txID
	c.flushed = false
	c.stopped.Store(false)
}

func (c *DeferringClient) AcquireShared(
	ctx context.Context,
	tracer LockTracer,
	rt ResourceType,
	ids ...ResourceID,
) error {
	return c.acquire(ctx, tracer, rt, false, ids)
}

func (c *DeferringClient) AcquireExclusive(
	ctx context.Context,
	tracer LockTracer,
	rt ResourceType,
	ids ...ResourceID,
) error {
	return c.acquire(ctx, tracer, rt, true, ids)
}

func (c *DeferringClient) acquire(
	ctx context.Context,
	tracer LockTracer,
	rt ResourceType,
	exclusive bool,
	ids []ResourceID,
) error {
	if c.stopped.Load() {
		return ErrLockClientStopped
	}

	if c.flushed {
		// the delegate holds each unit once; repeats are counted locally
		var fresh []ResourceID
		for _, id := range ids {
			if !c.tracks(NewLockUnit(rt, id, exclusive)) && !slices.Contains(fresh, id) {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) > 0 {
			if err := c.delegateAcquire(ctx, tracer, rt, exclusive, fresh); err != nil {
				return err
			}
		}
	}

	for _, id := range ids {
		c.track(NewLockUnit(rt, id, exclusive))
	}
	return nil
}

func (c *DeferringClient) delegateAcquire(
	ctx context.Context,
	tracer LockTracer,
	rt ResourceType,
	exclusive bool,
	ids []ResourceID,
) error {
	if exclusive {
		return c.delegate.AcquireExclusive(ctx, tracer, rt, ids...)
	}
	return c.delegate.AcquireShared(ctx, tracer, rt, ids...)
}

func (c *DeferringClient) tracks(unit LockUnit) bool {
	return c.locks.Get(&lockEntry{unit: unit}) != nil
}

func (c *DeferringClient) track(unit LockUnit) {
	if item := c.locks.Get(&lockEntry{unit: unit}); item != nil {
		item.(*lockEntry).count++
		return
	}
	c.locks.ReplaceOrInsert(&lockEntry{unit: unit, count: 1})
	c.tracker.AllocateHeap(lockEntrySize)
}

// untrack drops one reference and reports whether it was the last one.
func (c *DeferringClient) untrack(unit LockUnit) (bool, error) {
	item := c.locks.Get(&lockEntry{unit: unit})
	if item == nil {
		return false, IllegalRelease(unit)
	}

	e := item.(*lockEntry)
	e.count--
	assert.Assert(e.count >= 0, "negative reference count for %s", unit)
	if e.count > 0 {
		return false, nil
	}
	c.locks.Delete(e)
	c.tracker.ReleaseHeap(lockEntrySize)
	return true, nil
}

func (c *DeferringClient) ReleaseShared(rt ResourceType, ids ...ResourceID) error {
	return c.release(rt, false, ids)
}

func (c *DeferringClient) ReleaseExclusive(rt ResourceType, ids ...ResourceID) error {
	return c.release(rt, true, ids)
}

// release forwards to the delegate only once the last local reference of
// a flushed unit is gone.
func (c *DeferringClient) release(rt ResourceType, exclusive bool, ids []ResourceID) error {
	if c.stopped.Load() {
		return ErrLockClientStopped
	}

	var drop []ResourceID
	for _, id := range ids {
		last, err := c.untrack(NewLockUnit(rt, id, exclusive))
		if err != nil {
			return err
		}
		if last && c.flushed {
			drop = append(drop, id)
		}
	}
	if len(drop) == 0 {
		return nil
	}

	if exclusive {
		return c.delegate.ReleaseExclusive(rt, drop...)
	}
	return c.delegate.ReleaseShared(rt, drop...)
}

// AcquireDeferredLocks takes every recorded unit from the delegate. Units
// are visited in LockUnit order and each run of equal (resource type,
// exclusive) pairs becomes a single batched delegate call, so all exclusive
// groups are requested before any shared group. Each unit is requested once
// however many references it has; the local counts keep tracking them. It may
// be called once.
func (c *DeferringClient) AcquireDeferredLocks(ctx context.Context, tracer LockTracer) error {
	if c.stopped.Load() {
		return ErrLockClientStopped
	}
	if c.flushed {
		return ErrLocksAlreadyFlushed
	}
	c.flushed = true

	var (
		group LockUnit
		batch []ResourceID
		err   error
	)

	c.locks.Ascend(func(item btree.Item) bool {
		unit := item.(*lockEntry).unit
		if len(batch) > 0 &&
			(unit.ResourceType != group.ResourceType || unit.Exclusive != group.Exclusive) {
			if err = c.flushBatch(ctx, tracer, group, batch); err != nil {
				return false
			}
			batch = nil
		}
		group = unit
		batch = append(batch, unit.ResourceID)
		return true
	})
	if err != nil {
		return err
	}

	if len(batch) > 0 {
		return c.flushBatch(ctx, tracer, group, batch)
	}
	return nil
}

func (c *DeferringClient) flushBatch(
	ctx context.Context,
	tracer LockTracer,
	group LockUnit,
	ids []ResourceID,
) error {
	if err := c.delegateAcquire(ctx, tracer, group.ResourceType, group.Exclusive, ids); err != nil {
		return errors.Wrapf(err, "acquire deferred %s locks", group.Mode())
	}
	return nil
}

// Flushed reports whether the recorded locks were handed to the delegate.
func (c *DeferringClient) Flushed() bool {
	return c.flushed
}

func (c *DeferringClient) TryExclusiveLock(rt ResourceType, id ResourceID) (bool, error) {
	return false, errors.Wrapf(ErrUnsupportedOperation, "try exclusive lock on %s", ResourceString(rt, id))
}

func (c *DeferringClient) TrySharedLock(rt ResourceType, id ResourceID) (bool, error) {
	return false, errors.Wrapf(ErrUnsupportedOperation, "try shared lock on %s", ResourceString(rt, id))
}

func (c *DeferringClient) HoldsLock(id ResourceID, rt ResourceType, _ LockMode) (bool, error) {
	return false, errors.Wrapf(ErrUnsupportedOperation, "holds lock on %s", ResourceString(rt, id))
}

func (c *DeferringClient) PrepareForCommit() error {
	if !c.flushed {
		return errors.Wrap(ErrInvalidClientState, "deferred locks were not acquired before prepare")
	}
	return c.delegate.PrepareForCommit()
}

func (c *DeferringClient) Stop() bool {
	if !c.delegate.Stop() {
		return false
	}
	c.stopped.Store(true)
	return true
}

func (c *DeferringClient) Close() error {
	c.stopped.Store(true)
	c.releaseTable()
	return c.delegate.Close()
}

func (c *DeferringClient) releaseTable() {
	if n := c.locks.Len(); n > 0 {
		c.tracker.ReleaseHeap(int64(n) * lockEntrySize)
		c.locks.Clear(false)
	}
}

func (c *DeferringClient) TransactionID() common.TxnID {
	return c.txID
}

func (c *DeferringClient) ActiveLocks() []ActiveLock {
	out := make([]ActiveLock, 0, c.locks.Len())
	c.locks.Ascend(func(item btree.Item) bool {
		unit := item.(*lockEntry).unit
		out = append(out, ActiveLock{
			Mode:         unit.Mode(),
			ResourceType: unit.ResourceType,
			ResourceID:   unit.ResourceID,
			TxnID:        c.txID,
		})
		return true
	})
	return out
}

func (c *DeferringClient) ActiveLockCount() int {
	return c.locks.Len()
}
