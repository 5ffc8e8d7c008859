package transactions

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphTxn/src"
	"github.com/Blackdeer1524/GraphTxn/src/kernel"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/optional"
)

type State int32

const (
	StateOpen State = iota
	StateCommitted
	StateRolledBack
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLEDBACK"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Transaction wraps a kernel handle with the OPEN -> COMMITTED|ROLLEDBACK ->
// CLOSED lifecycle. Run, Commit, Rollback and Close are issued by a single
// owner; Interrupt, Validate and the getters are safe from any goroutine.
type Transaction struct {
	id        string
	typ       kernel.TransactionType
	db        kernel.Database
	clock     clock.Clock
	handle    kernel.Handle
	logger    src.Logger
	startedAt time.Time

	// guards statement bookkeeping and state transitions
	mu         sync.Mutex
	statements map[int]*Statement
	nextStmtID int
	openStmt   *Statement
	bookmark   kernel.Bookmark
	onClose    []func(*Transaction)
	state      atomic.Int32
	terminated atomic.Int32
	lastStmtID atomic.Int64
}

func New(
	id string,
	typ kernel.TransactionType,
	db kernel.Database,
	clk clock.Clock,
	handle kernel.Handle,
	logger src.Logger,
) *Transaction {
	t := &Transaction{
		id:         id,
		typ:        typ,
		db:         db,
		clock:      clk,
		handle:     handle,
		logger:     logger,
		startedAt:  clk.Now(),
		statements: make(map[int]*Statement),
	}
	t.lastStmtID.Store(-1)
	return t
}

func (t *Transaction) ID() string {
	return t.id
}

func (t *Transaction) Type() kernel.TransactionType {
	return t.typ
}

func (t *Transaction) Database() kernel.Database {
	return t.db
}

func (t *Transaction) StartedAt() time.Time {
	return t.startedAt
}

func (t *Transaction) State() State {
	return State(t.state.Load())
}

func (t *Transaction) IsOpen() bool {
	return t.State() == StateOpen
}

func (t *Transaction) Metadata() map[string]any {
	return t.handle.Metadata()
}

func (t *Transaction) ImpersonatedUser() string {
	return t.handle.ImpersonatedUser()
}

// OnClose registers f to be called once the transaction reaches CLOSED.
func (t *Transaction) OnClose(f func(*Transaction)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onClose = append(t.onClose, f)
}

func (t *Transaction) checkOpen(op string) error {
	if s := t.State(); s != StateOpen {
		return errors.Wrapf(ErrInvalidTransactionState, "%s on %s transaction %s", op, s, t.id)
	}
	return nil
}

// Run starts a statement. The previous statement is not closed
// automatically; at most one open statement is expected at a time.
func (t *Transaction) Run(
	ctx context.Context,
	text string,
	params map[string]any,
) (*Statement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("run"); err != nil {
		return nil, err
	}

	for id, stmt := range t.statements {
		if stmt.IsClosed() {
			delete(t.statements, id)
		}
	}

	id := t.nextStmtID
	t.nextStmtID++
	t.lastStmtID.Store(int64(id))

	res, err := t.handle.Execute(ctx, text, params)
	if err != nil {
		if errors.Is(err, locking.ErrDeadlockDetected) {
			t.handle.MarkForTermination(kernel.StatusDeadlockDetected)
		}
		return nil, &StatementError{ID: id, Err: err}
	}

	stmt := newStatement(id, text, res)
	t.statements[id] = stmt
	t.openStmt = stmt
	return stmt, nil
}

func (t *Transaction) GetStatement(id int) optional.Optional[*Statement] {
	t.mu.Lock()
	defer t.mu.Unlock()

	stmt, ok := t.statements[id]
	if !ok || stmt.IsClosed() {
		return optional.None[*Statement]()
	}
	return optional.Some(stmt)
}

func (t *Transaction) HasOpenStatement() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.openStmt != nil && !t.openStmt.IsClosed()
}

// LatestStatementID is -1 until the first Run.
func (t *Transaction) LatestStatementID() int {
	return int(t.lastStmtID.Load())
}

// Commit returns the bookmark of the commit. A failed commit leaves the
// transaction rolled back.
func (t *Transaction) Commit(ctx context.Context) (kernel.Bookmark, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("commit"); err != nil {
		return "", err
	}

	t.closeOpenStatement()
	if err := t.handle.Commit(ctx); err != nil {
		t.state.Store(int32(StateRolledBack))
		return "", errors.Wrapf(err, "commit transaction %s", t.id)
	}

	t.bookmark = t.handle.Bookmark()
	t.state.Store(int32(StateCommitted))
	return t.bookmark, nil
}

func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("rollback"); err != nil {
		return err
	}

	t.closeOpenStatement()
	err := t.handle.Rollback(ctx)
	t.state.Store(int32(StateRolledBack))
	if err != nil {
		return errors.Wrapf(err, "rollback transaction %s", t.id)
	}
	return nil
}

// Close rolls back a transaction that is still open and releases the
// handle. Repeated calls do nothing.
func (t *Transaction) Close() error {
	t.mu.Lock()

	state := t.State()
	if state == StateClosed {
		t.mu.Unlock()
		return nil
	}

	t.closeOpenStatement()

	var err error
	if state == StateOpen {
		t.logger.Infow("implicit rollback on close", zap.String("txn_id", t.id))
		err = multierr.Append(err, t.handle.Rollback(context.Background()))
	}
	err = multierr.Append(err, t.handle.Close())
	t.state.Store(int32(StateClosed))

	listeners := t.onClose
	t.onClose = nil
	t.mu.Unlock()

	for _, f := range listeners {
		f(t)
	}

	if err != nil {
		return errors.Wrapf(err, "close transaction %s", t.id)
	}
	return nil
}

func (t *Transaction) closeOpenStatement() {
	if t.openStmt != nil {
		t.openStmt.Close()
		t.openStmt = nil
	}
}

// Interrupt marks the handle for termination. It does not close the
// transaction and does not wait for a statement in flight.
func (t *Transaction) Interrupt() {
	if t.State() == StateClosed {
		return
	}
	if t.handle.MarkForTermination(kernel.StatusTerminated) {
		t.logger.Infow("transaction interrupted", zap.String("txn_id", t.id))
	}
}

// Validate reports whether the transaction can still do work.
func (t *Transaction) Validate() bool {
	if t.State() == StateClosed {
		return false
	}
	return t.TerminationReason().IsNone()
}

func (t *Transaction) TerminationReason() optional.Optional[kernel.Status] {
	if reason := t.handle.ReasonIfTerminated(); reason.IsSome() {
		return reason
	}
	if s := kernel.Status(t.terminated.Load()); s != kernel.StatusNone {
		return optional.Some(s)
	}
	return optional.None[kernel.Status]()
}

// Bookmark is empty until a successful commit.
func (t *Transaction) Bookmark() kernel.Bookmark {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bookmark
}

// markTerminated is called by the kernel from whatever goroutine terminated
// the handle, possibly while the owner is inside Run.
func (t *Transaction) markTerminated(status kernel.Status) {
	if t.terminated.CompareAndSwap(int32(kernel.StatusNone), int32(status)) {
		t.logger.Warnw(
			"transaction terminated",
			zap.String("txn_id", t.id),
			zap.Stringer("status", status),
		)
	}
}
