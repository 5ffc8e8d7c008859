package locking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
)

type recordingProvider struct {
	clients []*recordingClient
}

func (p *recordingProvider) NewClient() Client {
	c := &recordingClient{}
	p.clients = append(p.clients, c)
	return c
}

func TestFactorySelectsComposition(t *testing.T) {
	provider := &recordingProvider{}

	simple := NewStatementLocksFactory(provider, FactoryConfig{DeferWriteLocks: false}).NewInstance()
	assert.Same(t, simple.Pessimistic(), simple.Optimistic())

	deferred := NewStatementLocksFactory(provider, FactoryConfig{DeferWriteLocks: true}).NewInstance()
	assert.NotSame(t, deferred.Pessimistic(), deferred.Optimistic())
	assert.IsType(t, &DeferringClient{}, deferred.Optimistic())
	assert.Same(t, provider.clients[1], deferred.Pessimistic())
	assert.Len(t, provider.clients, 2)
}

func TestDeferredStatementLocksPrepare(t *testing.T) {
	provider := &recordingProvider{}
	locks := NewStatementLocksFactory(provider, FactoryConfig{DeferWriteLocks: true}).NewInstance()
	locks.Initialize(NoLease, common.TxnID(4), NoTracking, ClientConfig{})
	engine := provider.clients[0]
	ctx := context.Background()

	require.NoError(t, locks.Optimistic().AcquireExclusive(ctx, NoneTracer, ResourceNode, 1))
	require.NoError(t, locks.Pessimistic().AcquireShared(ctx, NoneTracer, ResourceLabel, 0))
	require.Len(t, engine.calls, 1)
	assert.Equal(t, 2, locks.ActiveLockCount())
	assert.Len(t, locks.ActiveLocks(), 2)

	require.NoError(t, locks.PrepareForCommit(ctx, NoneTracer))
	assert.True(t, engine.prepared)
	require.Len(t, engine.calls, 2)
	assert.Equal(t, recordedCall{exclusive: true, rt: ResourceNode, ids: []ResourceID{1}}, engine.calls[1])
	assert.Equal(t, 2, locks.ActiveLockCount())
}

func TestDeferredStatementLocksStopAndClose(t *testing.T) {
	provider := &recordingProvider{}
	locks := NewStatementLocksFactory(provider, FactoryConfig{DeferWriteLocks: true}).NewInstance()
	locks.Initialize(NoLease, common.TxnID(4), NoTracking, ClientConfig{})
	engine := provider.clients[0]

	require.True(t, locks.Stop())
	assert.Equal(t, 2, engine.stopped)
	require.ErrorIs(t,
		locks.Optimistic().AcquireExclusive(context.Background(), NoneTracer, ResourceNode, 1),
		ErrLockClientStopped,
	)

	require.NoError(t, locks.Close())
	assert.Equal(t, 2, engine.closed)
}

func TestSimpleStatementLocks(t *testing.T) {
	provider := &recordingProvider{}
	locks := NewStatementLocksFactory(provider, FactoryConfig{}).NewInstance()
	locks.Initialize(NoLease, common.TxnID(4), NoTracking, ClientConfig{})
	engine := provider.clients[0]
	ctx := context.Background()

	require.NoError(t, locks.Optimistic().AcquireExclusive(ctx, NoneTracer, ResourceNode, 1))
	require.Len(t, engine.calls, 1, "optimistic locks are taken immediately")
	assert.Equal(t, 1, locks.ActiveLockCount())

	require.NoError(t, locks.PrepareForCommit(ctx, NoneTracer))
	assert.True(t, engine.prepared)
	require.True(t, locks.Stop())
	require.NoError(t, locks.Close())
	assert.Equal(t, 1, engine.closed)
}
