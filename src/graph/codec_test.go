package graph

import (
	"testing"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/GraphTxn/src/locking"
)

func TestCommitRecordCodec(t *testing.T) {
	r := commitRecord{
		Seq:   3,
		TxnID: 12,
		Writes: []Write{
			{Op: WritePut, Type: locking.ResourceNode, ID: -1, Props: map[string]any{"k": "v"}},
			{Op: WriteDelete, Type: locking.ResourceRelationship, ID: 9},
		},
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeRecord(e, r)
	require.True(t, jx.Valid(e.Bytes()))

	decoded, err := decodeRecord(e.Bytes())
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestHeaderCodec(t *testing.T) {
	h := journalHeader{StoreID: uuid.New(), Version: journalVersion}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeHeader(e, h)

	decoded, err := decodeHeader(e.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, decoded)

	_, err = decodeHeader([]byte(`{"store_id":"` + h.StoreID.String() + `","version":7}`))
	require.Error(t, err)
}

func TestDecodeWriteRejectsUnknownOp(t *testing.T) {
	_, err := decodeRecord([]byte(`{"seq":1,"txn":1,"writes":[{"op":"merge","type":"NODE","id":1}]}`))
	require.Error(t, err)
}
