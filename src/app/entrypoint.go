package app

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/GraphTxn/src"
)

type Entrypoint interface {
	io.Closer
	Init(ctx context.Context) error
	Run(ctx context.Context) error
	// Logger is valid after a successful Init.
	Logger() src.Logger
}

// Run initializes e and serves until ctx is done or a signal arrives, then
// closes e. A failure of the serving loop is logged and returned.
func Run(ctx context.Context, e Entrypoint) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := e.Init(ctx); err != nil {
		return errors.Wrap(err, "init entrypoint")
	}
	log := e.Logger()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return e.Run(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		log.Infow("shutting down", zap.Bool("signaled", ctx.Err() != nil))

		return e.Close()
	})

	if err := eg.Wait(); err != nil {
		log.Errorw("server stopped", zap.Error(err))
		return errors.Wrap(err, "run entrypoint")
	}

	log.Infow("server stopped")
	return nil
}
