package locking

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
)

type MockClient struct {
	mock.Mock
}

var _ Client = &MockClient{}

func (m *MockClient) Initialize(lease LeaseClient, txID common.TxnID, tracker MemoryTracker, cfg ClientConfig) {
	m.Called(lease, txID, tracker, cfg)
}

func (m *MockClient) AcquireShared(ctx context.Context, tracer LockTracer, rt ResourceType, ids ...ResourceID) error {
	args := m.Called(ctx, tracer, rt, ids)
	return args.Error(0)
}

func (m *MockClient) AcquireExclusive(ctx context.Context, tracer LockTracer, rt ResourceType, ids ...ResourceID) error {
	args := m.Called(ctx, tracer, rt, ids)
	return args.Error(0)
}

func (m *MockClient) TryExclusiveLock(rt ResourceType, id ResourceID) (bool, error) {
	args := m.Called(rt, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) TrySharedLock(rt ResourceType, id ResourceID) (bool, error) {
	args := m.Called(rt, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) ReleaseShared(rt ResourceType, ids ...ResourceID) error {
	args := m.Called(rt, ids)
	return args.Error(0)
}

func (m *MockClient) ReleaseExclusive(rt ResourceType, ids ...ResourceID) error {
	args := m.Called(rt, ids)
	return args.Error(0)
}

func (m *MockClient) HoldsLock(id ResourceID, rt ResourceType, mode LockMode) (bool, error) {
	args := m.Called(id, rt, mode)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) PrepareForCommit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Stop() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) TransactionID() common.TxnID {
	args := m.Called()
	return args.Get(0).(common.TxnID)
}

func (m *MockClient) ActiveLocks() []ActiveLock {
	args := m.Called()
	return args.Get(0).([]ActiveLock)
}

func (m *MockClient) ActiveLockCount() int {
	args := m.Called()
	return args.Int(0)
}

// recordingClient remembers the batches it was asked to acquire and how
// many references of each unit it currently holds.
type recordingClient struct {
	NoOpClient

	calls    []recordedCall
	releases []recordedCall
	held     map[LockUnit]int
	prepared bool
	refuse   bool
	stopped  int
	closed   int
}

type recordedCall struct {
	exclusive bool
	rt        ResourceType
	ids       []ResourceID
}

func (c *recordingClient) AcquireShared(_ context.Context, _ LockTracer, rt ResourceType, ids ...ResourceID) error {
	c.calls = append(c.calls, recordedCall{exclusive: false, rt: rt, ids: ids})
	c.hold(rt, false, ids)
	return nil
}

func (c *recordingClient) AcquireExclusive(_ context.Context, _ LockTracer, rt ResourceType, ids ...ResourceID) error {
	c.calls = append(c.calls, recordedCall{exclusive: true, rt: rt, ids: ids})
	c.hold(rt, true, ids)
	return nil
}

func (c *recordingClient) hold(rt ResourceType, exclusive bool, ids []ResourceID) {
	if c.held == nil {
		c.held = map[LockUnit]int{}
	}
	for _, id := range ids {
		c.held[NewLockUnit(rt, id, exclusive)]++
	}
}

func (c *recordingClient) ReleaseShared(rt ResourceType, ids ...ResourceID) error {
	return c.release(rt, false, ids)
}

func (c *recordingClient) ReleaseExclusive(rt ResourceType, ids ...ResourceID) error {
	return c.release(rt, true, ids)
}

func (c *recordingClient) release(rt ResourceType, exclusive bool, ids []ResourceID) error {
	c.releases = append(c.releases, recordedCall{exclusive: exclusive, rt: rt, ids: ids})
	for _, id := range ids {
		unit := NewLockUnit(rt, id, exclusive)
		if c.held[unit] == 0 {
			return IllegalRelease(unit)
		}
		c.held[unit]--
		if c.held[unit] == 0 {
			delete(c.held, unit)
		}
	}
	return nil
}

func (c *recordingClient) PrepareForCommit() error {
	c.prepared = true
	return nil
}

func (c *recordingClient) Stop() bool {
	if c.refuse {
		return false
	}
	c.stopped++
	return true
}

func (c *recordingClient) Close() error {
	c.closed++
	return nil
}

func (c *recordingClient) ActiveLockCount() int {
	n := 0
	for _, call := range c.calls {
		n += len(call.ids)
	}
	return n
}

func (c *recordingClient) ActiveLocks() []ActiveLock {
	var out []ActiveLock
	for _, call := range c.calls {
		for _, id := range call.ids {
			out = append(out, ActiveLock{
				Mode:         LockModeOf(call.exclusive),
				ResourceType: call.rt,
				ResourceID:   id,
				TxnID:        c.TransactionID(),
			})
		}
	}
	return out
}
