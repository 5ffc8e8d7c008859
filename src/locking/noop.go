package locking

import (
	"context"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
)

// NoOpClient grants everything and remembers nothing. It serves read
// replicas and tooling that run without concurrency control.
type NoOpClient struct {
	txID common.TxnID
}

var _ Client = &NoOpClient{}

func NewNoOpClient() *NoOpClient {
	return &NoOpClient{txID: common.NilTxnID}
}

func (c *NoOpClient) Initialize(_ LeaseClient, txID common.TxnID, _ MemoryTracker, _ ClientConfig) {
	c.txID = txID
}

func (c *NoOpClient) AcquireShared(context.Context, LockTracer, ResourceType, ...ResourceID) error {
	return nil
}

func (c *NoOpClient) AcquireExclusive(context.Context, LockTracer, ResourceType, ...ResourceID) error {
	return nil
}

func (c *NoOpClient) TryExclusiveLock(ResourceType, ResourceID) (bool, error) { return true, nil }
func (c *NoOpClient) TrySharedLock(ResourceType, ResourceID) (bool, error)    { return true, nil }
func (c *NoOpClient) ReleaseShared(ResourceType, ...ResourceID) error         { return nil }
func (c *NoOpClient) ReleaseExclusive(ResourceType, ...ResourceID) error      { return nil }

func (c *NoOpClient) HoldsLock(ResourceID, ResourceType, LockMode) (bool, error) {
	return false, nil
}

func (c *NoOpClient) PrepareForCommit() error { return nil }
func (c *NoOpClient) Stop() bool              { return true }
func (c *NoOpClient) Close() error            { return nil }

func (c *NoOpClient) TransactionID() common.TxnID { return c.txID }
func (c *NoOpClient) ActiveLocks() []ActiveLock   { return nil }
func (c *NoOpClient) ActiveLockCount() int        { return 0 }

type noOpProvider struct{}

func (noOpProvider) NewClient() Client { return NewNoOpClient() }

var NoOpProvider ClientProvider = noOpProvider{}
