package graph

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphTxn/src/kernel"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/optional"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

type handleState int32

const (
	handleActive handleState = iota
	handleCommitted
	handleRolledBack
	handleClosed
)

type entityKey struct {
	rt locking.ResourceType
	id locking.ResourceID
}

// handle is a low-level transaction. Its writes stay in a private buffer
// until commit. Only the owner drives it; MarkForTermination and
// ReasonIfTerminated may be called from anywhere.
type handle struct {
	db       *Database
	txID     common.TxnID
	locks    locking.StatementLocks
	mode     kernel.AccessMode
	metadata map[string]any
	user     string
	deadline time.Time

	onTermination func(kernel.Status)

	writes   []Write
	overlay  map[entityKey]int
	bookmark kernel.Bookmark

	state  atomic.Int32
	reason atomic.Int32
}

var _ kernel.Handle = &handle{}

func newHandle(
	db *Database,
	txID common.TxnID,
	locks locking.StatementLocks,
	req kernel.BeginRequest,
	timeout time.Duration,
) *handle {
	h := &handle{
		db:            db,
		txID:          txID,
		locks:         locks,
		mode:          req.AccessMode,
		metadata:      utils.CloneMap(req.Metadata),
		user:          req.ImpersonatedUser,
		onTermination: req.OnTermination,
		overlay:       map[entityKey]int{},
	}
	if timeout > 0 {
		h.deadline = db.clock.Now().Add(timeout)
	}
	return h
}

func (h *handle) ID() int64 {
	return int64(h.txID)
}

func (h *handle) TxnID() common.TxnID {
	return h.txID
}

func (h *handle) Metadata() map[string]any {
	return utils.CloneMap(h.metadata)
}

func (h *handle) ImpersonatedUser() string {
	return h.user
}

func (h *handle) Bookmark() kernel.Bookmark {
	return h.bookmark
}

func (h *handle) loadState() handleState {
	return handleState(h.state.Load())
}

func (h *handle) checkActive(op string) error {
	if h.loadState() != handleActive {
		return errors.Wrapf(ErrHandleClosed, "%s on %s", op, h.txID)
	}
	if reason, ok := h.ReasonIfTerminated().Get(); ok {
		return errors.Wrapf(&kernel.TerminatedError{Status: reason}, "%s on %s", op, h.txID)
	}
	return nil
}

func (h *handle) Execute(ctx context.Context, text string, params map[string]any) (kernel.Result, error) {
	if err := h.checkActive("execute"); err != nil {
		return nil, err
	}

	stmt, err := parseStatement(text)
	if err != nil {
		return nil, err
	}
	if stmt.writes() && h.mode == kernel.AccessRead {
		return nil, errors.Wrapf(ErrWriteInReadTransaction, "%q", text)
	}

	if !h.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deadline.Sub(h.db.clock.Now()))
		defer cancel()
	}

	records, err := h.run(ctx, stmt, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && h.MarkForTermination(kernel.StatusTransactionTimedOut) {
			return nil, errors.Wrap(&kernel.TerminatedError{Status: kernel.StatusTransactionTimedOut}, "execute")
		}
		return nil, err
	}
	return newListResult(stmt.columns(), records), nil
}

func (h *handle) Commit(ctx context.Context) error {
	if err := h.checkActive("commit"); err != nil {
		if h.loadState() == handleActive {
			h.rollback(ctx)
		}
		return err
	}

	// a termination stops the lock client, so a flush that is still waiting
	// fails here; once prepared the client refuses to stop
	if err := h.locks.PrepareForCommit(ctx, h.db.tracer); err != nil {
		return h.failCommit(ctx, err, "prepare for commit")
	}

	commitCtx := locking.WithCommitter(ctx, h.txID)
	for _, listener := range h.db.commitListeners() {
		if err := listener(commitCtx, h.txID, h.writes); err != nil {
			return h.failCommit(ctx, err, "commit listener")
		}
	}

	seq, err := h.db.commit(ctx, h.txID, h.writes)
	if err != nil {
		h.rollback(ctx)
		return errors.Wrap(err, "commit")
	}

	h.bookmark = h.db.bookmarkAt(seq)
	h.state.Store(int32(handleCommitted))
	h.releaseLocks()
	return nil
}

func (h *handle) failCommit(ctx context.Context, err error, msg string) error {
	if errors.Is(err, locking.ErrDeadlockDetected) {
		h.terminated(kernel.StatusDeadlockDetected)
	}
	h.rollback(ctx)
	return errors.Wrap(err, msg)
}

func (h *handle) Rollback(ctx context.Context) error {
	if h.loadState() != handleActive {
		return errors.Wrapf(ErrHandleClosed, "rollback on %s", h.txID)
	}
	h.rollback(ctx)
	return nil
}

func (h *handle) rollback(ctx context.Context) {
	h.writes = nil
	clear(h.overlay)
	h.state.Store(int32(handleRolledBack))
	h.releaseLocks()
	h.db.rollbacks.Add(ctx, 1)
}

func (h *handle) releaseLocks() {
	if err := h.locks.Close(); err != nil {
		h.db.logger.Errorw("failed to release locks", zap.Stringer("txn_id", h.txID), zap.Error(err))
	}
}

func (h *handle) Close() error {
	switch h.loadState() {
	case handleClosed:
		return nil
	case handleActive:
		h.rollback(context.Background())
	}
	h.state.Store(int32(handleClosed))
	h.db.forget(h.txID)
	return nil
}

// MarkForTermination stops the locks of the handle so that pending waits
// give up, including the lock flush of a commit. A handle whose locks are
// already prepared for commit, or that has finished, is left alone.
func (h *handle) MarkForTermination(reason kernel.Status) bool {
	if h.loadState() != handleActive {
		return false
	}
	if !h.locks.Stop() {
		return false
	}
	return h.terminated(reason)
}

// terminated records the first reason and notifies the owner.
func (h *handle) terminated(reason kernel.Status) bool {
	if !h.reason.CompareAndSwap(int32(kernel.StatusNone), int32(reason)) {
		return false
	}
	h.db.logger.Infow(
		"transaction marked for termination",
		zap.Stringer("txn_id", h.txID),
		zap.Stringer("status", reason),
	)
	if h.onTermination != nil {
		h.onTermination(reason)
	}
	return true
}

func (h *handle) ReasonIfTerminated() optional.Optional[kernel.Status] {
	if reason := kernel.Status(h.reason.Load()); reason != kernel.StatusNone {
		return optional.Some(reason)
	}

	if !h.deadline.IsZero() && !h.db.clock.Now().Before(h.deadline) {
		h.MarkForTermination(kernel.StatusTransactionTimedOut)
		if reason := kernel.Status(h.reason.Load()); reason != kernel.StatusNone {
			return optional.Some(reason)
		}
	}
	return optional.None[kernel.Status]()
}

func (h *handle) lookup(key entityKey) (map[string]any, bool) {
	if i, ok := h.overlay[key]; ok {
		w := h.writes[i]
		if w.Op == WriteDelete {
			return nil, false
		}
		return utils.CloneMap(w.Props), true
	}
	return h.db.store.get(key.rt, key.id)
}

func (h *handle) buffer(w Write) {
	h.overlay[entityKey{rt: w.Type, id: w.ID}] = len(h.writes)
	h.writes = append(h.writes, w)
}

// count is the committed count of rt adjusted by the own pending writes.
func (h *handle) count(rt locking.ResourceType) int {
	n := h.db.store.count(rt)
	for key, i := range h.overlay {
		if key.rt != rt {
			continue
		}
		committed := h.db.store.has(key.rt, key.id)
		switch w := h.writes[i]; {
		case w.Op == WritePut && !committed:
			n++
		case w.Op == WriteDelete && committed:
			n--
		}
	}
	return n
}
