package app

import (
	"context"

	"github.com/Blackdeer1524/GraphTxn/src/cli"
)

var rootCmd = cli.Init("graphtxn", "Transaction and lock manager of a graph database")

func MustExecute(ctx context.Context) {
	initStart()
	rootCmd.MustExecute(ctx)
}
