package common

import (
	"fmt"
	"math"
)

/* a monotonically increasing counter. It is guaranteed to be unique between
 * transactions of one database
 * WARN: there might be problems with synchronization
 *       in distributed systems that use this kind of transaction IDs */
type TxnID uint64

const NilTxnID TxnID = math.MaxUint64

func (t TxnID) IsNil() bool {
	return t == NilTxnID
}

func (t TxnID) String() string {
	if t.IsNil() {
		return "txn(nil)"
	}

	return fmt.Sprintf("txn(%d)", uint64(t))
}

// ClientID identifies a lock client inside one lock manager. Client ids are
// never reused, even after the client is closed.
type ClientID uint64

func (c ClientID) String() string {
	return fmt.Sprintf("client(%d)", uint64(c))
}
