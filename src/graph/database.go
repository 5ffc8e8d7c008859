package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphTxn/src"
	"github.com/Blackdeer1524/GraphTxn/src/kernel"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

var (
	ErrDatabaseClosed         = errors.New("database is closed")
	ErrInvalidBookmark        = errors.New("invalid bookmark")
	ErrHandleClosed           = errors.New("transaction handle is not active")
	ErrSyntax                 = errors.New("invalid statement")
	ErrWriteInReadTransaction = errors.New("write statement in a read transaction")
)

type Config struct {
	DeferWriteLocks    bool
	AcquisitionTimeout time.Duration
	VerboseDeadlocks   bool
	// DefaultTimeout applies to transactions that don't ask for their own.
	DefaultTimeout time.Duration
}

// CommitListener runs inside the commit of txID after its locks were
// prepared. ctx carries the committer mark, so a listener that blocks on
// locks of the committing transaction fails with a same thread deadlock.
type CommitListener func(ctx context.Context, txID common.TxnID, writes []Write) error

type Database struct {
	name    string
	store   *store
	journal *journal
	factory *locking.StatementLocksFactory
	tracer  locking.LockTracer
	cfg     Config
	clock   clock.Clock
	logger  src.Logger

	commits   metric.Int64Counter
	rollbacks metric.Int64Counter

	lastTxID atomic.Uint64
	commitMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []CommitListener

	handlesMu sync.Mutex
	handles   map[common.TxnID]*handle
	closed    bool
}

var _ kernel.Database = &Database{}

// Open replays the journal of name found in dir and returns a database
// whose handles lock through locks.
func Open(
	fs afero.Fs,
	dir string,
	name string,
	locks locking.ClientProvider,
	tracer locking.LockTracer,
	meter metric.Meter,
	cfg Config,
	clk clock.Clock,
	logger src.Logger,
) (*Database, error) {
	j, records, err := openJournal(fs, dir, name)
	if err != nil {
		return nil, err
	}

	db := &Database{
		name:    name,
		store:   newStore(),
		journal: j,
		factory: locking.NewStatementLocksFactory(locks, locking.FactoryConfig{
			DeferWriteLocks: cfg.DeferWriteLocks,
		}),
		tracer:  tracer,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		handles: map[common.TxnID]*handle{},
		commits: utils.Must(meter.Int64Counter(
			"graphtxn.db.commits",
			metric.WithDescription("number of committed transactions"),
		)),
		rollbacks: utils.Must(meter.Int64Counter(
			"graphtxn.db.rollbacks",
			metric.WithDescription("number of rolled back transactions"),
		)),
	}

	var lastTxID common.TxnID
	for _, r := range records {
		db.store.apply(r.Seq, r.Writes)
		lastTxID = max(lastTxID, r.TxnID)
	}
	db.lastTxID.Store(uint64(lastTxID))

	logger.Infow(
		"database opened",
		zap.String("database", name),
		zap.Stringer("store_id", j.storeID),
		zap.Uint64("seq", db.store.lastSeq()),
	)
	return db, nil
}

func (db *Database) Name() string {
	return db.name
}

func (db *Database) StoreID() uuid.UUID {
	return db.journal.storeID
}

// Bookmark is the position of the latest commit.
func (db *Database) Bookmark() kernel.Bookmark {
	return db.bookmarkAt(db.store.lastSeq())
}

func (db *Database) bookmarkAt(seq uint64) kernel.Bookmark {
	return kernel.Bookmark(fmt.Sprintf("%s:%d", db.journal.storeID, seq))
}

func (db *Database) checkBookmark(b kernel.Bookmark) error {
	storeID, seqStr, ok := strings.Cut(string(b), ":")
	if !ok {
		return errors.Wrapf(ErrInvalidBookmark, "%q is malformed", b)
	}
	id, err := uuid.Parse(storeID)
	if err != nil {
		return errors.Wrapf(ErrInvalidBookmark, "%q has a bad store id", b)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return errors.Wrapf(ErrInvalidBookmark, "%q has a bad position", b)
	}
	if id != db.journal.storeID {
		return errors.Wrapf(ErrInvalidBookmark, "%q belongs to another store", b)
	}
	if last := db.store.lastSeq(); seq > last {
		return errors.Wrapf(ErrInvalidBookmark, "%q is ahead of the last commit %d", b, last)
	}
	return nil
}

func (db *Database) AddCommitListener(l CommitListener) {
	db.listenersMu.Lock()
	defer db.listenersMu.Unlock()

	db.listeners = append(db.listeners, l)
}

func (db *Database) commitListeners() []CommitListener {
	db.listenersMu.RLock()
	defer db.listenersMu.RUnlock()

	return append([]CommitListener(nil), db.listeners...)
}

func (db *Database) Begin(ctx context.Context, req kernel.BeginRequest) (kernel.Handle, error) {
	for _, b := range req.Bookmarks {
		if err := db.checkBookmark(b); err != nil {
			return nil, err
		}
	}

	db.handlesMu.Lock()
	defer db.handlesMu.Unlock()

	if db.closed {
		return nil, errors.Wrapf(ErrDatabaseClosed, "begin on %s", db.name)
	}

	txID := common.TxnID(db.lastTxID.Add(1))
	locks := db.factory.NewInstance()
	locks.Initialize(locking.NoLease, txID, locking.NewHeapTracker(), locking.ClientConfig{
		AcquisitionTimeout: db.cfg.AcquisitionTimeout,
		VerboseDeadlocks:   db.cfg.VerboseDeadlocks,
	})

	timeout := req.Timeout
	if timeout == 0 {
		timeout = db.cfg.DefaultTimeout
	}

	h := newHandle(db, txID, locks, req, timeout)
	db.handles[txID] = h

	db.logger.Debugw(
		"transaction handle started",
		zap.String("database", db.name),
		zap.Stringer("txn_id", txID),
		zap.Stringer("access_mode", req.AccessMode),
	)
	return h, nil
}

// commit appends writes to the journal and applies them to the store.
func (db *Database) commit(ctx context.Context, txID common.TxnID, writes []Write) (uint64, error) {
	if len(writes) == 0 {
		db.commits.Add(ctx, 1)
		return db.store.lastSeq(), nil
	}

	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	seq := db.store.lastSeq() + 1
	if err := db.journal.append(commitRecord{Seq: seq, TxnID: txID, Writes: writes}); err != nil {
		return 0, err
	}

	db.store.mu.Lock()
	db.store.apply(seq, writes)
	db.store.mu.Unlock()

	db.commits.Add(ctx, 1)
	return seq, nil
}

func (db *Database) forget(txID common.TxnID) {
	db.handlesMu.Lock()
	defer db.handlesMu.Unlock()

	delete(db.handles, txID)
}

// OpenHandles is the number of handles begun and not yet closed.
func (db *Database) OpenHandles() int {
	db.handlesMu.Lock()
	defer db.handlesMu.Unlock()

	return len(db.handles)
}

// Close terminates every open handle and closes the journal.
func (db *Database) Close() error {
	db.handlesMu.Lock()
	if db.closed {
		db.handlesMu.Unlock()
		return nil
	}
	db.closed = true
	open := make([]*handle, 0, len(db.handles))
	for _, h := range db.handles {
		open = append(open, h)
	}
	db.handlesMu.Unlock()

	var err error
	for _, h := range open {
		h.MarkForTermination(kernel.StatusDatabaseShutdown)
	}

	db.commitMu.Lock()
	err = multierr.Append(err, db.journal.close())
	db.commitMu.Unlock()

	db.logger.Infow("database closed", zap.String("database", db.name), zap.Int("terminated", len(open)))
	return err
}
