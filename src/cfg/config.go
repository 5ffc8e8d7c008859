package cfg

import (
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Blackdeer1524/GraphTxn/src/graph"
)

const Prefix = "GRAPHDB"

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}

type ServerConfig struct {
	Environment Environment `default:"dev"`

	AdminHost string `default:"localhost" split_words:"true"`
	AdminPort int    `default:"7475" split_words:"true"`

	DeferWriteLocks        bool          `default:"false" split_words:"true"`
	LockAcquisitionTimeout time.Duration `default:"0s" split_words:"true"`
	VerboseDeadlocks       bool          `default:"false" split_words:"true"`
	TransactionTimeout     time.Duration `default:"0s" split_words:"true"`

	DataDir   string   `default:"/tmp/graphtxn" split_words:"true"`
	Databases []string `default:"graph"`

	ShutdownWorkers int `default:"8" split_words:"true"`
}

// Load reads an optional .env file and then the GRAPHDB_* environment.
// Variables already set in the environment win over the file.
func Load(path string) (ServerConfig, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return ServerConfig{}, errors.Wrapf(err, "load env file %q", path)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return ServerConfig{}, errors.Wrap(err, "load .env")
		}
	}

	var c ServerConfig
	if err := envconfig.Process(Prefix, &c); err != nil {
		return ServerConfig{}, errors.Wrap(err, "process env")
	}

	if err := c.Validate(); err != nil {
		return ServerConfig{}, errors.Wrap(err, "validate config")
	}

	return c, nil
}

func (c ServerConfig) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return err
	}

	switch {
	case c.AdminPort <= 0 || c.AdminPort > 65535:
		return errors.Errorf("admin port %d is out of range", c.AdminPort)
	case c.LockAcquisitionTimeout < 0:
		return errors.New("lock acquisition timeout must not be negative")
	case c.TransactionTimeout < 0:
		return errors.New("transaction timeout must not be negative")
	case len(c.Databases) == 0:
		return errors.New("at least one database is required")
	case c.ShutdownWorkers <= 0:
		return errors.New("shutdown workers must be positive")
	}

	for _, name := range c.Databases {
		if name == "" {
			return errors.New("database name must not be empty")
		}
	}

	return nil
}

func (c ServerConfig) Graph() graph.Config {
	return graph.Config{
		DeferWriteLocks:    c.DeferWriteLocks,
		AcquisitionTimeout: c.LockAcquisitionTimeout,
		VerboseDeadlocks:   c.VerboseDeadlocks,
		DefaultTimeout:     c.TransactionTimeout,
	}
}
