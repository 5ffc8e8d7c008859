package transactions

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/panjf2000/ants"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphTxn/src"
	"github.com/Blackdeer1524/GraphTxn/src/kernel"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/optional"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

// Owner resolves database names for the caller creating a transaction.
type Owner interface {
	ResolveDatabase(name string) (kernel.Database, bool)
}

type CreateOptions struct {
	AccessMode       kernel.AccessMode
	Bookmarks        []kernel.Bookmark
	Timeout          time.Duration
	Metadata         map[string]any
	ImpersonatedUser string
}

// Manager owns the registry of live transactions. Ids are generated from a
// monotonic counter and never reused.
type Manager struct {
	registry sync.Map
	seq      atomic.Uint64

	clock   clock.Clock
	logger  src.Logger
	workers int

	terminations metric.Int64Counter
}

func NewManager(
	clk clock.Clock,
	logger src.Logger,
	meter metric.Meter,
	workers int,
) *Manager {
	if workers <= 0 {
		workers = 1
	}

	return &Manager{
		clock:   clk,
		logger:  logger,
		workers: workers,
		terminations: utils.Must(meter.Int64Counter(
			"graphtxn.transaction.terminations",
			metric.WithDescription("Transactions terminated asynchronously"),
		)),
	}
}

func (m *Manager) Create(
	ctx context.Context,
	typ kernel.TransactionType,
	owner Owner,
	dbName string,
	opts CreateOptions,
) (*Transaction, error) {
	db, ok := owner.ResolveDatabase(dbName)
	if !ok {
		return nil, errors.Wrapf(ErrDatabaseNotFound, "database %q", dbName)
	}

	// the handle may be terminated before the transaction wrapping it exists
	var created atomic.Pointer[Transaction]
	onTermination := func(status kernel.Status) {
		m.terminations.Add(
			context.Background(),
			1,
			metric.WithAttributes(attribute.String("status", status.String())),
		)
		if t := created.Load(); t != nil {
			t.markTerminated(status)
		}
	}

	h, err := db.Begin(ctx, kernel.BeginRequest{
		Type:             typ,
		AccessMode:       opts.AccessMode,
		Bookmarks:        opts.Bookmarks,
		Timeout:          opts.Timeout,
		Metadata:         opts.Metadata,
		ImpersonatedUser: opts.ImpersonatedUser,
		OnTermination:    onTermination,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "begin transaction on %q", dbName)
	}

	id := fmt.Sprintf("tx-%d", m.seq.Add(1))
	t := New(id, typ, db, m.clock, h, m.logger)
	t.OnClose(m.retire)
	created.Store(t)
	m.registry.Store(id, t)

	m.logger.Debugw(
		"transaction created",
		zap.String("txn_id", id),
		zap.String("database", db.Name()),
		zap.Stringer("type", typ),
		zap.Stringer("access_mode", opts.AccessMode),
	)
	return t, nil
}

func (m *Manager) Get(id string) optional.Optional[*Transaction] {
	v, ok := m.registry.Load(id)
	if !ok {
		return optional.None[*Transaction]()
	}
	return optional.Some(v.(*Transaction))
}

// List returns a snapshot of the registry ordered by start time.
func (m *Manager) List() []*Transaction {
	var txs []*Transaction
	m.registry.Range(func(_, v any) bool {
		txs = append(txs, v.(*Transaction))
		return true
	})

	slices.SortFunc(txs, func(a, b *Transaction) int {
		if c := a.StartedAt().Compare(b.StartedAt()); c != 0 {
			return c
		}
		if c := cmp.Compare(len(a.ID()), len(b.ID())); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return txs
}

func (m *Manager) Count() int {
	n := 0
	m.registry.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Interrupt marks a single transaction for termination.
func (m *Manager) Interrupt(id string) error {
	t, ok := m.Get(id).Get()
	if !ok {
		return errors.Wrapf(ErrTransactionNotFound, "transaction %q", id)
	}
	t.Interrupt()
	return nil
}

func (m *Manager) InterruptAll() {
	for _, t := range m.List() {
		t.Interrupt()
	}
}

// CloseAll closes every registered transaction on a bounded worker pool.
func (m *Manager) CloseAll() error {
	txs := m.List()
	if len(txs) == 0 {
		return nil
	}

	pool, err := ants.NewPool(m.workers)
	if err != nil {
		return errors.Wrap(err, "create shutdown pool")
	}
	defer pool.Release()

	var (
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   error
	)
	collect := func(err error) {
		errsMu.Lock()
		defer errsMu.Unlock()
		errs = multierr.Append(errs, err)
	}

	for _, t := range txs {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := t.Close(); err != nil {
				collect(err)
			}
		})
		if err != nil {
			wg.Done()
			collect(errors.Wrapf(err, "schedule close of %s", t.ID()))
		}
	}
	wg.Wait()

	m.logger.Infow("closed transactions", zap.Int("count", len(txs)))
	return errs
}

func (m *Manager) retire(t *Transaction) {
	m.registry.Delete(t.ID())
	m.logger.Debugw("transaction retired", zap.String("txn_id", t.ID()))
}
