package txns

import (
	"time"

	"github.com/Blackdeer1524/GraphTxn/src/locking"
)

type lockKey struct {
	rt locking.ResourceType
	id locking.ResourceID
}

func (k lockKey) String() string {
	return locking.ResourceString(k.rt, k.id)
}

// waiter is a queued lock request. granted is closed once the lock is
// handed over to the client.
type waiter struct {
	client    *Client
	key       lockKey
	exclusive bool
	since     time.Time

	granted chan struct{}
	done    bool
}

// resourceLock is the lock state of a single resource. A client may hold
// the lock in both modes at once. Exclusive and shared references are
// counted separately so that a release in one mode downgrades the lock
// instead of dropping it.
type resourceLock struct {
	exclusive      *Client
	exclusiveCount int
	shared         map[*Client]int
	waiters        []*waiter
}

func newResourceLock() *resourceLock {
	return &resourceLock{
		shared: map[*Client]int{},
	}
}

func (l *resourceLock) compatible(c *Client, exclusive bool) bool {
	if l.exclusive != nil && l.exclusive != c {
		return false
	}
	if !exclusive {
		return true
	}
	for holder := range l.shared {
		if holder != c {
			return false
		}
	}
	return true
}

func (l *resourceLock) holds(c *Client) bool {
	if l.exclusive == c {
		return true
	}
	_, ok := l.shared[c]
	return ok
}

func (l *resourceLock) grant(c *Client, exclusive bool) {
	if exclusive {
		l.exclusive = c
		l.exclusiveCount++
		return
	}
	l.shared[c]++
}

// blockers lists the clients that keep w from being granted.
func (l *resourceLock) blockers(w *waiter) []*Client {
	var out []*Client
	if l.exclusive != nil && l.exclusive != w.client {
		out = append(out, l.exclusive)
	}
	if w.exclusive {
		for holder := range l.shared {
			if holder != w.client && holder != l.exclusive {
				out = append(out, holder)
			}
		}
	}
	for _, ahead := range l.waiters {
		if ahead == w {
			break
		}
		if ahead.client != w.client {
			out = append(out, ahead.client)
		}
	}
	return out
}

func (l *resourceLock) removeWaiter(w *waiter) {
	for i, queued := range l.waiters {
		if queued == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

func (l *resourceLock) idle() bool {
	return l.exclusive == nil && len(l.shared) == 0 && len(l.waiters) == 0
}
