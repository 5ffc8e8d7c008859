package graph

import (
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	"github.com/Blackdeer1524/GraphTxn/src"
	"github.com/Blackdeer1524/GraphTxn/src/kernel"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

// Catalog maps database names to open databases.
type Catalog struct {
	mu  sync.RWMutex
	dbs map[string]*Database
}

func NewCatalog() *Catalog {
	return &Catalog{dbs: map[string]*Database{}}
}

// OpenCatalog opens every named database from dir.
func OpenCatalog(
	fs afero.Fs,
	dir string,
	names []string,
	locks locking.ClientProvider,
	tracer locking.LockTracer,
	meter metric.Meter,
	cfg Config,
	clk clock.Clock,
	logger src.Logger,
) (*Catalog, error) {
	c := NewCatalog()
	for _, name := range names {
		db, err := Open(fs, dir, name, locks, tracer, meter, cfg, clk, logger)
		if err != nil {
			return nil, multierr.Append(err, c.Close())
		}
		c.Register(db)
	}
	return c, nil
}

func (c *Catalog) Register(db *Database) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dbs[db.Name()] = db
}

func (c *Catalog) Database(name string) (*Database, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	db, ok := c.dbs[name]
	return db, ok
}

func (c *Catalog) ResolveDatabase(name string) (kernel.Database, bool) {
	db, ok := c.Database(name)
	if !ok {
		return nil, false
	}
	return db, true
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return utils.SortedKeys(c.dbs)
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, name := range utils.SortedKeys(c.dbs) {
		err = multierr.Append(err, c.dbs[name].Close())
	}
	return err
}
