package txns

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
)

// approximate heap cost of one held lock reference
const heldLockSize = 96

// Client is a blocking lock client of the LockManager.
type Client struct {
	id      common.ClientID
	manager *LockManager
	state   locking.StateHolder
	tracker locking.MemoryTracker
	lease   locking.LeaseClient
	cfg     locking.ClientConfig

	// guarded by manager.guard
	txID       common.TxnID
	held       map[lockKey]struct{}
	waiting    *waiter
	stopCh     chan struct{}
	stopClosed bool
}

var _ locking.Client = &Client{}

func (c *Client) String() string {
	return fmt.Sprintf("LockClient[%s, %s]", c.txID, c.id)
}

func (c *Client) ID() common.ClientID {
	return c.id
}

func (c *Client) Initialize(
	lease locking.LeaseClient,
	txID common.TxnID,
	tracker locking.MemoryTracker,
	cfg locking.ClientConfig,
) {
	if tracker == nil {
		tracker = locking.NoTracking
	}

	c.manager.guard.Lock()
	c.txID = txID
	if c.stopClosed {
		c.stopCh = make(chan struct{})
		c.stopClosed = false
	}
	c.manager.guard.Unlock()

	c.lease = lease
	c.tracker = tracker
	c.cfg = cfg
	c.state.Reset()
}

func (c *Client) AcquireShared(
	ctx context.Context,
	tracer locking.LockTracer,
	rt locking.ResourceType,
	ids ...locking.ResourceID,
) error {
	return c.acquire(ctx, tracer, rt, false, ids)
}

func (c *Client) AcquireExclusive(
	ctx context.Context,
	tracer locking.LockTracer,
	rt locking.ResourceType,
	ids ...locking.ResourceID,
) error {
	return c.acquire(ctx, tracer, rt, true, ids)
}

func (c *Client) acquire(
	ctx context.Context,
	tracer locking.LockTracer,
	rt locking.ResourceType,
	exclusive bool,
	ids []locking.ResourceID,
) error {
	if tracer == nil {
		tracer = locking.NoneTracer
	}
	for _, id := range ids {
		if err := c.acquireOne(ctx, tracer, lockKey{rt: rt, id: id}, exclusive); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) acquireOne(
	ctx context.Context,
	tracer locking.LockTracer,
	key lockKey,
	exclusive bool,
) error {
	m := c.manager
	m.guard.Lock()

	if err := c.state.CheckAcquire(); err != nil {
		m.guard.Unlock()
		return err
	}

	l := m.lockFor(key)
	// Holders skip the queue: reentrant requests and upgrades must not wait
	// behind requests that are themselves blocked by this client.
	if l.compatible(c, exclusive) && (len(l.waiters) == 0 || l.holds(c)) {
		l.grant(c, exclusive)
		c.track(key)
		m.guard.Unlock()
		return nil
	}

	w := &waiter{
		client:    c,
		key:       key,
		exclusive: exclusive,
		since:     m.clock.Now(),
		granted:   make(chan struct{}),
	}
	if l.holds(c) {
		l.waiters = slices.Insert(l.waiters, 0, w)
	} else {
		l.waiters = append(l.waiters, w)
	}
	c.waiting = w

	if err := c.checkDeadlock(ctx, l, w); err != nil {
		l.removeWaiter(w)
		c.waiting = nil
		m.promote(key, l)
		m.guard.Unlock()
		return err
	}

	stopCh := c.stopCh
	m.guard.Unlock()

	return c.wait(ctx, tracer, w, stopCh)
}

// checkDeadlock must be called with the guard held and w already queued.
func (c *Client) checkDeadlock(ctx context.Context, l *resourceLock, w *waiter) error {
	m := c.manager
	mode := locking.LockModeOf(w.exclusive)

	var err *locking.DeadlockError
	if committer, ok := locking.CommitterFrom(ctx); ok {
		for _, blocker := range l.blockers(w) {
			if blocker.txID == committer && blocker.state.Load() == locking.StatePreparing {
				err = &locking.DeadlockError{
					Message: fmt.Sprintf(
						"%s can't acquire %s on %s, because we are waiting for %s that is committing on the same thread",
						c, mode, w.key, blocker,
					),
					SameThread: true,
				}
				break
			}
		}
	}

	if err == nil {
		cycle := m.findCycle(w)
		if cycle == nil {
			return nil
		}

		if c.cfg.VerboseDeadlocks {
			err = &locking.DeadlockError{Message: fmt.Sprintf(
				"%s can't acquire %s %s because it would form this deadlock wait cycle: %s",
				c, mode, w.key, m.describeCycle(cycle),
			)}
		} else {
			err = &locking.DeadlockError{Message: fmt.Sprintf(
				"%s can't acquire %s on %s because holders of that lock are waiting for %s. Wait list: %s",
				c, mode, w.key, c, m.describeWaitList(l),
			)}
		}
	}

	m.deadlocks.Add(ctx, 1)
	m.reportDeadlock(c, w.key, err)
	return err
}

func (c *Client) wait(
	ctx context.Context,
	tracer locking.LockTracer,
	w *waiter,
	stopCh <-chan struct{},
) error {
	m := c.manager
	mode := locking.LockModeOf(w.exclusive)

	event := tracer.WaitForLock(ctx, mode, w.key.rt, c.txID, w.key.id)
	defer event.Close()

	var timeout <-chan time.Time
	if c.cfg.AcquisitionTimeout > 0 {
		timeout = m.clock.TickAfter(c.cfg.AcquisitionTimeout)
	}

	var err error
	select {
	case <-w.granted:
		return nil
	case <-stopCh:
		err = locking.ErrLockClientStopped
	case <-timeout:
		err = errors.Wrapf(
			locking.ErrLockAcquisitionTimeout,
			"%s on %s after %s",
			mode, w.key, c.cfg.AcquisitionTimeout,
		)
	case <-ctx.Done():
		err = errors.Wrapf(ctx.Err(), "wait for %s on %s", mode, w.key)
	}

	m.guard.Lock()
	defer m.guard.Unlock()

	if w.done && !errors.Is(err, locking.ErrLockClientStopped) {
		// granted while we were giving up
		return nil
	}
	if !w.done {
		if l, ok := m.locks[w.key]; ok {
			l.removeWaiter(w)
			m.promote(w.key, l)
		}
	}
	if c.waiting == w {
		c.waiting = nil
	}
	return err
}

// track must be called with the guard held.
func (c *Client) track(key lockKey) {
	if _, ok := c.held[key]; ok {
		return
	}
	c.held[key] = struct{}{}
	c.tracker.AllocateHeap(heldLockSize)
}

func (c *Client) TryExclusiveLock(rt locking.ResourceType, id locking.ResourceID) (bool, error) {
	return c.tryLock(lockKey{rt: rt, id: id}, true)
}

func (c *Client) TrySharedLock(rt locking.ResourceType, id locking.ResourceID) (bool, error) {
	return c.tryLock(lockKey{rt: rt, id: id}, false)
}

func (c *Client) tryLock(key lockKey, exclusive bool) (bool, error) {
	m := c.manager
	m.guard.Lock()
	defer m.guard.Unlock()

	if err := c.state.CheckAcquire(); err != nil {
		return false, err
	}

	l := m.lockFor(key)
	if l.compatible(c, exclusive) && (len(l.waiters) == 0 || l.holds(c)) {
		l.grant(c, exclusive)
		c.track(key)
		return true, nil
	}
	if l.idle() {
		delete(m.locks, key)
	}
	return false, nil
}

func (c *Client) ReleaseShared(rt locking.ResourceType, ids ...locking.ResourceID) error {
	return c.releaseMany(rt, false, ids)
}

func (c *Client) ReleaseExclusive(rt locking.ResourceType, ids ...locking.ResourceID) error {
	return c.releaseMany(rt, true, ids)
}

func (c *Client) releaseMany(rt locking.ResourceType, exclusive bool, ids []locking.ResourceID) error {
	if c.state.Load() == locking.StateClosed {
		return errors.Wrap(locking.ErrLockClientStopped, "release on a closed client")
	}

	m := c.manager
	m.guard.Lock()
	defer m.guard.Unlock()

	for _, id := range ids {
		key := lockKey{rt: rt, id: id}
		_, tracked := c.held[key]
		if err := m.release(c, key, exclusive); err != nil {
			return err
		}
		if _, still := c.held[key]; tracked && !still {
			c.tracker.ReleaseHeap(heldLockSize)
		}
	}
	return nil
}

func (c *Client) HoldsLock(id locking.ResourceID, rt locking.ResourceType, mode locking.LockMode) (bool, error) {
	m := c.manager
	m.guard.Lock()
	defer m.guard.Unlock()

	l, ok := m.locks[lockKey{rt: rt, id: id}]
	if !ok {
		return false, nil
	}
	if mode.IsExclusive() {
		return l.exclusive == c, nil
	}
	_, shared := l.shared[c]
	return shared, nil
}

func (c *Client) PrepareForCommit() error {
	return c.state.Prepare()
}

func (c *Client) Stop() bool {
	if !c.state.Stop() {
		return false
	}

	m := c.manager
	m.guard.Lock()
	defer m.guard.Unlock()

	c.closeStopCh()
	c.releaseHeld()
	return true
}

func (c *Client) Close() error {
	if !c.state.Close() {
		return nil
	}

	m := c.manager
	m.guard.Lock()
	defer m.guard.Unlock()

	c.closeStopCh()
	c.releaseHeld()
	delete(m.clients, c.id)
	return nil
}

// closeStopCh and releaseHeld must be called with the guard held.
func (c *Client) closeStopCh() {
	if !c.stopClosed {
		close(c.stopCh)
		c.stopClosed = true
	}
}

func (c *Client) releaseHeld() {
	c.tracker.ReleaseHeap(int64(len(c.held)) * heldLockSize)
	c.manager.releaseAll(c)
}

func (c *Client) TransactionID() common.TxnID {
	c.manager.guard.Lock()
	defer c.manager.guard.Unlock()

	return c.txID
}

func (c *Client) ActiveLocks() []locking.ActiveLock {
	m := c.manager
	m.guard.Lock()
	defer m.guard.Unlock()

	var out []locking.ActiveLock
	for key := range c.held {
		l := m.locks[key]
		if l.exclusive == c {
			out = append(out, locking.ActiveLock{
				Mode:         locking.LockExclusive,
				ResourceType: key.rt,
				ResourceID:   key.id,
				TxnID:        c.txID,
			})
		}
		if _, ok := l.shared[c]; ok {
			out = append(out, locking.ActiveLock{
				Mode:         locking.LockShared,
				ResourceType: key.rt,
				ResourceID:   key.id,
				TxnID:        c.txID,
			})
		}
	}
	slices.SortFunc(out, func(a, b locking.ActiveLock) int {
		return a.Unit().Compare(b.Unit())
	})
	return out
}

func (c *Client) ActiveLockCount() int {
	return len(c.ActiveLocks())
}
