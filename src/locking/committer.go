package locking

import (
	"context"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
)

type committerKey struct{}

// WithCommitter marks ctx as running inside the commit of txID. Lock
// engines use the mark to tell a commit-time callback blocking on its own
// committing transaction apart from an ordinary deadlock.
func WithCommitter(ctx context.Context, txID common.TxnID) context.Context {
	return context.WithValue(ctx, committerKey{}, txID)
}

func CommitterFrom(ctx context.Context) (common.TxnID, bool) {
	if ctx == nil {
		return common.NilTxnID, false
	}
	txID, ok := ctx.Value(committerKey{}).(common.TxnID)
	return txID, ok
}
