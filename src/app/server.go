package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphTxn/src"
	"github.com/Blackdeer1524/GraphTxn/src/cfg"
	"github.com/Blackdeer1524/GraphTxn/src/delivery"
	"github.com/Blackdeer1524/GraphTxn/src/graph"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
	"github.com/Blackdeer1524/GraphTxn/src/transactions"
	"github.com/Blackdeer1524/GraphTxn/src/txns"
)

const (
	CloseTimeout = 15 * time.Second

	instrumentationName = "github.com/Blackdeer1524/GraphTxn"
)

type ServerEntrypoint struct {
	ConfigPath string
	Config     cfg.ServerConfig
	Log        src.Logger

	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Clock defaults to the wall clock.
	Clock clock.Clock

	locks   *txns.LockManager
	catalog *graph.Catalog
	txs     *transactions.Manager
	server  *delivery.Server
}

func (e *ServerEntrypoint) Init(_ context.Context) error {
	config, err := cfg.Load(e.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	e.Config = config

	if e.Log == nil {
		if e.Config.Environment == cfg.EnvDev {
			e.Log = utils.Must(zap.NewDevelopment()).Sugar()
		} else {
			e.Log = utils.Must(zap.NewProduction()).Sugar()
		}
	}
	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}
	if e.Clock == nil {
		e.Clock = clock.NewDefaultClock()
	}

	meter := otel.Meter(instrumentationName)
	tracer := locking.NewOtelTracer(otel.Tracer(instrumentationName), meter)

	e.locks = txns.NewLockManager(e.Clock, e.Log, meter)

	e.catalog, err = graph.OpenCatalog(
		e.Fs,
		e.Config.DataDir,
		e.Config.Databases,
		e.locks,
		tracer,
		meter,
		e.Config.Graph(),
		e.Clock,
		e.Log,
	)
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}

	e.txs = transactions.NewManager(e.Clock, e.Log, meter, e.Config.ShutdownWorkers)

	admin := &delivery.AdminHandler{
		Locks:        e.locks,
		Transactions: e.txs,
		Logger:       e.Log,
	}
	e.server = delivery.NewServer(e.Log, e.Config.AdminHost, e.Config.AdminPort, admin.Routes())

	e.Log.Infow(
		"server initialized",
		zap.Strings("databases", e.catalog.Names()),
		zap.Bool("defer_write_locks", e.Config.DeferWriteLocks),
	)

	return nil
}

func (e *ServerEntrypoint) Logger() src.Logger {
	return e.Log
}

// Transactions is the registry request handlers create transactions in.
func (e *ServerEntrypoint) Transactions() *transactions.Manager {
	return e.txs
}

// Catalog resolves database names for Transactions().Create.
func (e *ServerEntrypoint) Catalog() *graph.Catalog {
	return e.catalog
}

func (e *ServerEntrypoint) Run(_ context.Context) error {
	return e.server.Run()
}

func (e *ServerEntrypoint) Close() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), CloseTimeout)
	defer cancel()

	if e.server != nil {
		err = multierr.Append(err, e.server.Close(ctx))
	}

	if e.txs != nil {
		e.txs.InterruptAll()
		err = multierr.Append(err, e.txs.CloseAll())
	}

	if e.catalog != nil {
		err = multierr.Append(err, e.catalog.Close())
	}

	if e.Log != nil {
		if err != nil {
			e.Log.Errorw("failed to close server", zap.Error(err))
		}

		// syncing stderr fails on some platforms
		_ = e.Log.Sync()
	}

	return
}
