package graph

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphTxn/src/kernel"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
	"github.com/Blackdeer1524/GraphTxn/src/txns"
)

const dataDir = "/data"

var startTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	fs    afero.Fs
	clock clock.Clock
	locks *txns.LockManager
}

func newEnv(clk clock.Clock) *env {
	logger := zap.NewNop().Sugar()
	meter := noop.NewMeterProvider().Meter("test")
	return &env{
		fs:    afero.NewMemMapFs(),
		clock: clk,
		locks: txns.NewLockManager(clk, logger, meter),
	}
}

func (e *env) open(t *testing.T, cfg Config) *Database {
	t.Helper()

	db, err := Open(
		e.fs,
		dataDir,
		"graph",
		e.locks,
		locking.NoneTracer,
		noop.NewMeterProvider().Meter("test"),
		cfg,
		e.clock,
		zap.NewNop().Sugar(),
	)
	require.NoError(t, err)
	return db
}

func begin(t *testing.T, db *Database, mode kernel.AccessMode) kernel.Handle {
	t.Helper()

	h, err := db.Begin(context.Background(), kernel.BeginRequest{
		Type:       kernel.TransactionExplicit,
		AccessMode: mode,
	})
	require.NoError(t, err)
	return h
}

func exec(t *testing.T, h kernel.Handle, text string, params map[string]any) []kernel.Record {
	t.Helper()

	res, err := h.Execute(context.Background(), text, params)
	require.NoError(t, err)
	return drain(t, res)
}

func drain(t *testing.T, res kernel.Result) []kernel.Record {
	t.Helper()
	defer res.Close()

	var out []kernel.Record
	for res.HasNext() {
		rec, ok := res.Next()
		require.True(t, ok)
		out = append(out, rec)
	}
	return out
}

func TestWriteReadCommit(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", map[string]any{"name": "alice"})
	recs := exec(t, h, "read node 1", nil)
	require.Equal(t, []kernel.Record{{
		"id":         int64(1),
		"exists":     true,
		"properties": map[string]any{"name": "alice"},
	}}, recs)
	require.Equal(t, []kernel.Record{{"count": int64(1)}}, exec(t, h, "COUNT NODE", nil))

	other := begin(t, db, kernel.AccessRead)
	assert.Equal(t, false, exec(t, other, "READ NODE 1", nil)[0]["exists"])
	require.NoError(t, other.Close())

	require.NoError(t, h.Commit(ctx))
	assert.Equal(t, db.Bookmark(), h.Bookmark())
	assert.Equal(t, kernel.Bookmark(fmt.Sprintf("%s:1", db.StoreID())), h.Bookmark())
	require.NoError(t, h.Close())
	assert.Equal(t, 0, db.OpenHandles())

	reader := begin(t, db, kernel.AccessRead)
	recs = exec(t, reader, "READ NODE 1", nil)
	assert.Equal(t, true, recs[0]["exists"])
	require.NoError(t, reader.Commit(ctx))
	assert.Equal(t, db.Bookmark(), reader.Bookmark(), "read only commit keeps the position")
}

func TestRollbackDiscardsWrites(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE RELATIONSHIP 4", nil)
	require.NoError(t, h.Rollback(ctx))
	require.ErrorIs(t, h.Rollback(ctx), ErrHandleClosed)
	_, err := h.Execute(ctx, "READ NODE 1", nil)
	require.ErrorIs(t, err, ErrHandleClosed)
	require.NoError(t, h.Close())

	reader := begin(t, db, kernel.AccessRead)
	recs := exec(t, reader, "READ RELATIONSHIP 4", nil)
	assert.Equal(t, false, recs[0]["exists"])
}

func TestDeleteAndCount(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", nil)
	exec(t, h, "WRITE NODE 2", nil)
	require.NoError(t, h.Commit(ctx))

	h = begin(t, db, kernel.AccessWrite)
	assert.Equal(t, []kernel.Record{{"id": int64(2), "deleted": true}}, exec(t, h, "DELETE NODE 2", nil))
	assert.Equal(t, []kernel.Record{{"id": int64(3), "deleted": false}}, exec(t, h, "DELETE NODE 3", nil))
	assert.Equal(t, []kernel.Record{{"count": int64(1)}}, exec(t, h, "COUNT NODE", nil))
	require.NoError(t, h.Commit(ctx))

	assert.Equal(t, 1, db.store.count(locking.ResourceNode))
}

func TestStatementErrors(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessRead)
	for _, text := range []string{"", "SELECT 1", "READ EDGE 1", "READ NODE x", "READ NODE", "COUNT NODE 1", "LOCK NODE"} {
		_, err := h.Execute(ctx, text, nil)
		require.ErrorIs(t, err, ErrSyntax, text)
	}

	_, err := h.Execute(ctx, "WRITE NODE 1", nil)
	require.ErrorIs(t, err, ErrWriteInReadTransaction)
}

func TestExplicitLocks(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})

	h := begin(t, db, kernel.AccessRead)
	recs := exec(t, h, "LOCK SHARED NODE 1 2", nil)
	assert.Equal(t, []kernel.Record{
		{"id": int64(1), "mode": "SHARED"},
		{"id": int64(2), "mode": "SHARED"},
	}, recs)

	var seen int
	e.locks.Accept(func(locking.LockInfo) { seen++ })
	assert.Equal(t, 2, seen)

	require.NoError(t, h.Close())
	seen = 0
	e.locks.Accept(func(locking.LockInfo) { seen++ })
	assert.Zero(t, seen)
}

func TestDeferredWriteLocksConflictAtCommit(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{DeferWriteLocks: true})
	ctx := context.Background()

	a := begin(t, db, kernel.AccessWrite)
	b := begin(t, db, kernel.AccessWrite)

	exec(t, a, "WRITE NODE 1", map[string]any{"v": int64(1)})
	// no conflict yet, the write lock of a is only recorded
	exec(t, b, "LOCK SHARED NODE 1", nil)

	done := make(chan error, 1)
	go func() { done <- a.Commit(ctx) }()

	requireWaiting(t, e.locks)

	require.NoError(t, b.Close())
	require.NoError(t, <-done)
	require.NoError(t, a.Close())
}

func TestInterruptDuringDeferredLockFlush(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{DeferWriteLocks: true})
	ctx := context.Background()

	a := begin(t, db, kernel.AccessWrite)
	b := begin(t, db, kernel.AccessWrite)

	exec(t, a, "WRITE NODE 1", nil)
	exec(t, b, "LOCK SHARED NODE 1", nil)

	done := make(chan error, 1)
	go func() { done <- a.Commit(ctx) }()

	requireWaiting(t, e.locks)

	require.True(t, a.MarkForTermination(kernel.StatusTerminated))
	select {
	case err := <-done:
		require.ErrorIs(t, err, locking.ErrLockClientStopped)
	case <-time.After(time.Second):
		t.Fatal("commit is still waiting for the flushed locks")
	}
	assert.Equal(t, kernel.StatusTerminated, a.ReasonIfTerminated().Unwrap())
	require.ErrorIs(t, a.Rollback(ctx), ErrHandleClosed, "failed commit rolls back")

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Zero(t, db.store.count(locking.ResourceNode))
}

func TestMarkForTerminationRefusedOncePrepared(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", nil)

	var marked bool
	db.AddCommitListener(func(context.Context, common.TxnID, []Write) error {
		marked = h.MarkForTermination(kernel.StatusTerminated)
		return nil
	})

	require.NoError(t, h.Commit(ctx))
	assert.False(t, marked)
	assert.True(t, h.ReasonIfTerminated().IsNone())
	assert.Equal(t, 1, db.store.count(locking.ResourceNode))
	require.NoError(t, h.Close())
}

func TestDeferredLockFlushDeadlock(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{DeferWriteLocks: true})
	ctx := context.Background()

	var reasons []kernel.Status
	a := begin(t, db, kernel.AccessWrite)
	b, err := db.Begin(ctx, kernel.BeginRequest{
		AccessMode:    kernel.AccessWrite,
		OnTermination: func(s kernel.Status) { reasons = append(reasons, s) },
	})
	require.NoError(t, err)

	exec(t, a, "WRITE NODE 1", nil)
	exec(t, b, "WRITE NODE 2", nil)
	exec(t, a, "LOCK SHARED NODE 2", nil)
	exec(t, b, "LOCK SHARED NODE 1", nil)

	done := make(chan error, 1)
	go func() { done <- a.Commit(ctx) }()

	requireWaiting(t, e.locks)

	err = b.Commit(ctx)
	require.ErrorIs(t, err, locking.ErrDeadlockDetected)
	assert.Equal(t, kernel.StatusDeadlockDetected, b.ReasonIfTerminated().Unwrap())
	assert.Equal(t, []kernel.Status{kernel.StatusDeadlockDetected}, reasons)

	require.NoError(t, <-done)
	assert.True(t, a.ReasonIfTerminated().IsNone())
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestCountWaitsForUncommittedCreate(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", nil)

	type outcome struct {
		res kernel.Result
		err error
	}
	other := begin(t, db, kernel.AccessRead)
	counted := make(chan outcome, 1)
	go func() {
		res, err := other.Execute(ctx, "COUNT NODE", nil)
		counted <- outcome{res: res, err: err}
	}()

	requireWaiting(t, e.locks)
	require.NoError(t, h.Commit(ctx))

	out := <-counted
	require.NoError(t, out.err)
	assert.Equal(t, []kernel.Record{{"count": int64(1)}}, drain(t, out.res))
	require.NoError(t, other.Close())
	require.NoError(t, h.Close())
}

func TestDeleteBlocksCount(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{AcquisitionTimeout: time.Millisecond})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", nil)
	require.NoError(t, h.Commit(ctx))
	require.NoError(t, h.Close())

	h = begin(t, db, kernel.AccessWrite)
	exec(t, h, "DELETE NODE 1", nil)

	other := begin(t, db, kernel.AccessRead)
	_, err := other.Execute(ctx, "COUNT NODE", nil)
	require.ErrorIs(t, err, locking.ErrLockAcquisitionTimeout)

	// updating an existing entity leaves the count alone
	require.NoError(t, h.Rollback(ctx))
	h = begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", map[string]any{"v": int64(2)})
	require.Equal(t, []kernel.Record{{"count": int64(1)}}, exec(t, other, "COUNT NODE", nil))
	require.NoError(t, other.Close())
	require.NoError(t, h.Close())
}

func TestImmediateWriteLocksBlock(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{AcquisitionTimeout: time.Millisecond})
	ctx := context.Background()

	a := begin(t, db, kernel.AccessWrite)
	b := begin(t, db, kernel.AccessWrite)

	exec(t, a, "WRITE NODE 1", nil)
	_, err := b.Execute(ctx, "WRITE NODE 1", nil)
	require.ErrorIs(t, err, locking.ErrLockAcquisitionTimeout)
}

func TestCommitListenerSameThreadDeadlock(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	var listenerErr error
	db.AddCommitListener(func(ctx context.Context, txID common.TxnID, writes []Write) error {
		h, err := db.Begin(ctx, kernel.BeginRequest{AccessMode: kernel.AccessRead})
		if err != nil {
			return err
		}
		defer func() { _ = h.Close() }()

		_, listenerErr = h.Execute(ctx, "READ NODE 1", nil)
		return listenerErr
	})

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", nil)

	err := h.Commit(ctx)
	require.ErrorIs(t, err, locking.ErrDeadlockDetected)
	assert.True(t, locking.IsSameThreadDeadlock(listenerErr))
	assert.Contains(t, err.Error(), "committing on the same thread")
	assert.Equal(t, kernel.StatusDeadlockDetected, h.ReasonIfTerminated().Unwrap())

	require.ErrorIs(t, h.Rollback(ctx), ErrHandleClosed, "failed commit rolls back")
	require.NoError(t, h.Close())
}

func TestJournalReplay(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", map[string]any{
		"name":  "alice",
		"age":   int64(30),
		"score": 1.5,
		"tags":  []any{"a", true, nil},
	})
	exec(t, h, "WRITE RELATIONSHIP 7", nil)
	require.NoError(t, h.Commit(ctx))

	h = begin(t, db, kernel.AccessWrite)
	exec(t, h, "DELETE RELATIONSHIP 7", nil)
	require.NoError(t, h.Commit(ctx))

	storeID := db.StoreID()
	bookmark := db.Bookmark()
	require.NoError(t, db.Close())

	reopened := e.open(t, Config{})
	assert.Equal(t, storeID, reopened.StoreID())
	assert.Equal(t, bookmark, reopened.Bookmark())

	props, ok := reopened.store.get(locking.ResourceNode, 1)
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"name":  "alice",
		"age":   int64(30),
		"score": 1.5,
		"tags":  []any{"a", true, nil},
	}, props)
	assert.False(t, reopened.store.has(locking.ResourceRelationship, 7))

	h = begin(t, reopened, kernel.AccessWrite)
	assert.Equal(t, int64(3), h.ID(), "transaction ids continue after replay")
}

func TestCorruptJournal(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	require.NoError(t, afero.WriteFile(e.fs, journalPath(dataDir, "graph"), []byte("not json\n"), 0o644))

	_, err := Open(e.fs, dataDir, "graph", e.locks, locking.NoneTracer,
		noop.NewMeterProvider().Meter("test"), Config{}, e.clock, zap.NewNop().Sugar())
	require.Error(t, err)
}

func TestBookmarks(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	exec(t, h, "WRITE NODE 1", nil)
	require.NoError(t, h.Commit(ctx))

	_, err := db.Begin(ctx, kernel.BeginRequest{Bookmarks: []kernel.Bookmark{h.Bookmark()}})
	require.NoError(t, err)

	for _, b := range []kernel.Bookmark{
		"garbage",
		"not-a-uuid:1",
		kernel.Bookmark(fmt.Sprintf("%s:x", db.StoreID())),
		kernel.Bookmark(fmt.Sprintf("%s:2", db.StoreID())),
		"6ba7b810-9dad-11d1-80b4-00c04fd430c8:1",
	} {
		_, err := db.Begin(ctx, kernel.BeginRequest{Bookmarks: []kernel.Bookmark{b}})
		require.ErrorIs(t, err, ErrInvalidBookmark, string(b))
	}
}

func TestTransactionTimeout(t *testing.T) {
	clk := clock.NewTestClock(startTime)
	e := newEnv(clk)
	db := e.open(t, Config{DefaultTimeout: time.Minute})
	ctx := context.Background()

	var reasons []kernel.Status
	h, err := db.Begin(ctx, kernel.BeginRequest{
		AccessMode:    kernel.AccessWrite,
		OnTermination: func(s kernel.Status) { reasons = append(reasons, s) },
	})
	require.NoError(t, err)
	exec(t, h, "WRITE NODE 1", nil)
	assert.True(t, h.ReasonIfTerminated().IsNone())

	clk.SetTime(startTime.Add(time.Minute))
	assert.Equal(t, kernel.StatusTransactionTimedOut, h.ReasonIfTerminated().Unwrap())
	assert.Equal(t, []kernel.Status{kernel.StatusTransactionTimedOut}, reasons)

	_, err = h.Execute(ctx, "READ NODE 1", nil)
	require.ErrorIs(t, err, kernel.ErrTerminated)

	require.ErrorIs(t, h.Commit(ctx), kernel.ErrTerminated)
	require.NoError(t, h.Close())
	assert.Zero(t, db.store.count(locking.ResourceNode))
}

func TestMarkForTermination(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	holder := begin(t, db, kernel.AccessWrite)
	exec(t, holder, "LOCK NODE 1", nil)

	victim := begin(t, db, kernel.AccessWrite)
	done := make(chan error, 1)
	go func() {
		_, err := victim.Execute(ctx, "LOCK NODE 1", nil)
		done <- err
	}()

	requireWaiting(t, e.locks)

	require.True(t, victim.MarkForTermination(kernel.StatusTerminated))
	require.False(t, victim.MarkForTermination(kernel.StatusTerminated))
	require.ErrorIs(t, <-done, locking.ErrLockClientStopped)
	assert.Equal(t, kernel.StatusTerminated, victim.ReasonIfTerminated().Unwrap())

	require.NoError(t, victim.Close())
	require.NoError(t, holder.Close())
}

func TestCloseTerminatesHandles(t *testing.T) {
	e := newEnv(clock.NewDefaultClock())
	db := e.open(t, Config{})
	ctx := context.Background()

	h := begin(t, db, kernel.AccessWrite)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.Equal(t, kernel.StatusDatabaseShutdown, h.ReasonIfTerminated().Unwrap())
	_, err := db.Begin(ctx, kernel.BeginRequest{})
	require.ErrorIs(t, err, ErrDatabaseClosed)
}

func requireWaiting(t *testing.T, locks *txns.LockManager) {
	t.Helper()
	require.Eventually(t, func() bool {
		waiting := false
		locks.Accept(func(info locking.LockInfo) {
			waiting = waiting || strings.Contains(info.Description, "waits for")
		})
		return waiting
	}, time.Second, time.Millisecond)
}
