package delivery

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/Blackdeer1524/GraphTxn/src/graph"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
	"github.com/Blackdeer1524/GraphTxn/src/transactions"
)

func encodeLock(e *jx.Encoder, info locking.LockInfo) {
	e.ObjStart()
	e.FieldStart("mode")
	e.Str(info.Mode.String())
	e.FieldStart("resource_type")
	e.Str(info.ResourceType.String())
	e.FieldStart("resource_id")
	e.Int64(int64(info.ResourceID))
	e.FieldStart("txn_id")
	if info.TxnID.IsNil() {
		e.Null()
	} else {
		e.UInt64(uint64(info.TxnID))
	}
	e.FieldStart("description")
	e.Str(info.Description)
	e.FieldStart("estimated_wait_ms")
	e.Int64(info.EstimatedWait.Milliseconds())
	e.FieldStart("client_id")
	e.UInt64(uint64(info.ClientID))
	e.ObjEnd()
}

func encodeTransaction(e *jx.Encoder, t *transactions.Transaction) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(t.ID())
	e.FieldStart("type")
	e.Str(t.Type().String())
	e.FieldStart("database")
	e.Str(t.Database().Name())
	e.FieldStart("state")
	e.Str(t.State().String())
	e.FieldStart("valid")
	e.Bool(t.Validate())
	if reason, ok := t.TerminationReason().Get(); ok {
		e.FieldStart("termination_reason")
		e.Str(reason.String())
	}
	e.FieldStart("started_at")
	e.Str(t.StartedAt().UTC().Format(time.RFC3339Nano))
	if user := t.ImpersonatedUser(); user != "" {
		e.FieldStart("impersonated_user")
		e.Str(user)
	}
	e.FieldStart("metadata")
	encodeMetadata(e, t.Metadata())
	e.ObjEnd()
}

func encodeMetadata(e *jx.Encoder, md map[string]any) {
	e.ObjStart()
	for _, k := range utils.SortedKeys(md) {
		e.FieldStart(k)
		graph.EncodeValue(e, md[k])
	}
	e.ObjEnd()
}

func encodeError(e *jx.Encoder, code, message string) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
}
