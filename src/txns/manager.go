package txns

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphTxn/src"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/assert"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

// LockManager is the in-memory lock engine. Every lock table mutation
// happens under a single guard; blocked clients wait on their own
// notifier channel outside of it.
type LockManager struct {
	guard   sync.Mutex
	locks   map[lockKey]*resourceLock
	clients map[common.ClientID]*Client

	lastClientID atomic.Uint64

	clock     clock.Clock
	logger    src.Logger
	deadlocks metric.Int64Counter
}

var _ locking.ClientProvider = &LockManager{}

func NewLockManager(clk clock.Clock, logger src.Logger, meter metric.Meter) *LockManager {
	return &LockManager{
		locks:   map[lockKey]*resourceLock{},
		clients: map[common.ClientID]*Client{},
		clock:   clk,
		logger:  logger,
		deadlocks: utils.Must(meter.Int64Counter(
			"graphtxn.lock.deadlocks",
			metric.WithDescription("number of lock requests aborted as deadlock victims"),
		)),
	}
}

func (m *LockManager) NewClient() locking.Client {
	c := &Client{
		id:      common.ClientID(m.lastClientID.Add(1)),
		txID:    common.NilTxnID,
		manager: m,
		tracker: locking.NoTracking,
		lease:   locking.NoLease,
		held:    map[lockKey]struct{}{},
		stopCh:  make(chan struct{}),
	}

	m.guard.Lock()
	m.clients[c.id] = c
	m.guard.Unlock()

	return c
}

// lockFor must be called with the guard held.
func (m *LockManager) lockFor(key lockKey) *resourceLock {
	l, ok := m.locks[key]
	if !ok {
		l = newResourceLock()
		m.locks[key] = l
	}
	return l
}

// promote grants the lock to the longest compatible prefix of the wait
// queue. Must be called with the guard held.
func (m *LockManager) promote(key lockKey, l *resourceLock) {
	granted := 0
	for _, w := range l.waiters {
		if !l.compatible(w.client, w.exclusive) {
			break
		}
		l.grant(w.client, w.exclusive)
		w.client.track(key)
		w.client.waiting = nil
		w.done = true
		close(w.granted)
		granted++
	}
	l.waiters = l.waiters[granted:]

	if l.idle() {
		delete(m.locks, key)
	}
}

// release drops one reference of the given mode. Must be called with the
// guard held.
func (m *LockManager) release(c *Client, key lockKey, exclusive bool) error {
	l, ok := m.locks[key]
	if !ok {
		return locking.IllegalRelease(locking.NewLockUnit(key.rt, key.id, exclusive))
	}

	if exclusive {
		if l.exclusive != c {
			return locking.IllegalRelease(locking.NewLockUnit(key.rt, key.id, exclusive))
		}
		l.exclusiveCount--
		assert.Assert(l.exclusiveCount >= 0, "negative exclusive count on %s", key)
		if l.exclusiveCount == 0 {
			l.exclusive = nil
		}
	} else {
		count, ok := l.shared[c]
		if !ok {
			return locking.IllegalRelease(locking.NewLockUnit(key.rt, key.id, exclusive))
		}
		if count == 1 {
			delete(l.shared, c)
		} else {
			l.shared[c] = count - 1
		}
	}

	if !l.holds(c) {
		delete(c.held, key)
	}
	m.promote(key, l)
	return nil
}

// releaseAll drops every lock of c and cancels its pending wait. Must be
// called with the guard held.
func (m *LockManager) releaseAll(c *Client) {
	if w := c.waiting; w != nil {
		if l, ok := m.locks[w.key]; ok {
			l.removeWaiter(w)
			m.promote(w.key, l)
		}
		c.waiting = nil
	}

	for key := range c.held {
		l, ok := m.locks[key]
		assert.Assert(ok, "client %s holds a lock on %s that doesn't exist", c, key)

		if l.exclusive == c {
			l.exclusive = nil
			l.exclusiveCount = 0
		}
		delete(l.shared, c)
		m.promote(key, l)
	}
	clear(c.held)
}

// findCycle walks the wait-for graph starting at the clients blocking w.
// It returns the path back to the requester when waiting would close a
// cycle. Must be called with the guard held.
func (m *LockManager) findCycle(w *waiter) []*Client {
	visited := map[*Client]struct{}{}

	var walk func(w *waiter, path []*Client) []*Client
	walk = func(w *waiter, path []*Client) []*Client {
		l, ok := m.locks[w.key]
		if !ok {
			return nil
		}
		for _, blocker := range l.blockers(w) {
			next := append(slices.Clip(path), blocker)
			if blocker == path[0] {
				return next
			}
			if _, seen := visited[blocker]; seen {
				continue
			}
			visited[blocker] = struct{}{}

			if blocker.waiting != nil {
				if cycle := walk(blocker.waiting, next); cycle != nil {
					return cycle
				}
			}
		}
		return nil
	}

	return walk(w, []*Client{w.client})
}

func (m *LockManager) describeCycle(cycle []*Client) string {
	var sb strings.Builder
	for i, c := range cycle {
		if i > 0 {
			sb.WriteString(" -> ")
		}
		sb.WriteString(c.String())
		if i+1 < len(cycle) && c.waiting != nil {
			fmt.Fprintf(&sb, " waits for %s", c.waiting.key)
		}
	}
	return sb.String()
}

func (m *LockManager) describeWaitList(l *resourceLock) string {
	var parts []string
	if l.exclusive != nil {
		parts = append(parts, fmt.Sprintf("%s holds EXCLUSIVE", l.exclusive))
	}
	for holder := range l.shared {
		parts = append(parts, fmt.Sprintf("%s holds SHARED", holder))
	}
	slices.Sort(parts)
	for _, w := range l.waiters {
		parts = append(parts, fmt.Sprintf("%s waits for %s", w.client, locking.LockModeOf(w.exclusive)))
	}
	return strings.Join(parts, ", ")
}

func (m *LockManager) reportDeadlock(c *Client, key lockKey, err *locking.DeadlockError) {
	m.logger.Warnw(
		"deadlock detected",
		zap.Stringer("txn_id", c.txID),
		zap.Stringer("resource", key),
		zap.Bool("same_thread", err.SameThread),
		zap.String("message", err.Message),
	)
}

// Accept reports every held lock to visitor. The estimated wait of a lock
// is the age of its oldest queued request.
func (m *LockManager) Accept(visitor locking.LockVisitor) {
	m.guard.Lock()
	defer m.guard.Unlock()

	now := m.clock.Now()
	keys := make([]lockKey, 0, len(m.locks))
	for key := range m.locks {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b lockKey) int {
		return locking.NewLockUnit(a.rt, a.id, false).Compare(locking.NewLockUnit(b.rt, b.id, false))
	})

	for _, key := range keys {
		l := m.locks[key]

		var wait time.Duration
		if len(l.waiters) > 0 {
			wait = now.Sub(l.waiters[0].since)
		}
		description := m.describeWaitList(l)

		report := func(c *Client, mode locking.LockMode) {
			visitor(locking.LockInfo{
				Mode:          mode,
				ResourceType:  key.rt,
				ResourceID:    key.id,
				TxnID:         c.txID,
				Description:   description,
				EstimatedWait: wait,
				ClientID:      c.id,
			})
		}

		if l.exclusive != nil {
			report(l.exclusive, locking.LockExclusive)
		}
		holders := make([]*Client, 0, len(l.shared))
		for holder := range l.shared {
			holders = append(holders, holder)
		}
		slices.SortFunc(holders, func(a, b *Client) int {
			return cmp.Compare(a.id, b.id)
		})
		for _, holder := range holders {
			if holder != l.exclusive {
				report(holder, locking.LockShared)
			}
		}
	}
}

// ClientCount is the number of clients that were handed out and not yet
// closed.
func (m *LockManager) ClientCount() int {
	m.guard.Lock()
	defer m.guard.Unlock()

	return len(m.clients)
}
