package graph

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

const journalVersion = 1

type WriteOp uint8

const (
	WritePut WriteOp = iota
	WriteDelete
)

func (op WriteOp) String() string {
	if op == WriteDelete {
		return "delete"
	}
	return "put"
}

// Write is one buffered modification of a transaction.
type Write struct {
	Op    WriteOp
	Type  locking.ResourceType
	ID    locking.ResourceID
	Props map[string]any
}

type commitRecord struct {
	Seq    uint64
	TxnID  common.TxnID
	Writes []Write
}

type journalHeader struct {
	StoreID uuid.UUID
	Version int
}

func EncodeValue(e *jx.Encoder, v any) {
	switch v := v.(type) {
	case nil:
		e.Null()
	case bool:
		e.Bool(v)
	case string:
		e.Str(v)
	case int:
		e.Int(v)
	case int32:
		e.Int32(v)
	case int64:
		e.Int64(v)
	case uint64:
		e.UInt64(v)
	case float64:
		e.Float64(v)
	case []any:
		e.ArrStart()
		for _, item := range v {
			EncodeValue(e, item)
		}
		e.ArrEnd()
	case map[string]any:
		e.ObjStart()
		for _, k := range utils.SortedKeys(v) {
			e.FieldStart(k)
			EncodeValue(e, v[k])
		}
		e.ObjEnd()
	default:
		e.Str(fmt.Sprint(v))
	}
}

func DecodeValue(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Bool:
		return d.Bool()
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		if n.IsInt() {
			return n.Int64()
		}
		return n.Float64()
	case jx.Array:
		out := []any{}
		err := d.Arr(func(d *jx.Decoder) error {
			v, err := DecodeValue(d)
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
		return out, err
	case jx.Object:
		out := map[string]any{}
		err := d.Obj(func(d *jx.Decoder, key string) error {
			v, err := DecodeValue(d)
			if err != nil {
				return err
			}
			out[key] = v
			return nil
		})
		return out, err
	}
	return nil, errors.New("unexpected json value")
}

func encodeHeader(e *jx.Encoder, h journalHeader) {
	e.ObjStart()
	e.FieldStart("store_id")
	e.Str(h.StoreID.String())
	e.FieldStart("version")
	e.Int(h.Version)
	e.ObjEnd()
}

func decodeHeader(data []byte) (journalHeader, error) {
	var h journalHeader
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "store_id":
			s, err := d.Str()
			if err != nil {
				return err
			}
			h.StoreID, err = uuid.Parse(s)
			return err
		case "version":
			v, err := d.Int()
			h.Version = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return h, errors.Wrap(err, "decode journal header")
	}
	if h.Version != journalVersion {
		return h, errors.Errorf("unsupported journal version %d", h.Version)
	}
	return h, nil
}

func encodeRecord(e *jx.Encoder, r commitRecord) {
	e.ObjStart()
	e.FieldStart("seq")
	e.UInt64(r.Seq)
	e.FieldStart("txn")
	e.UInt64(uint64(r.TxnID))
	e.FieldStart("writes")
	e.ArrStart()
	for _, w := range r.Writes {
		e.ObjStart()
		e.FieldStart("op")
		e.Str(w.Op.String())
		e.FieldStart("type")
		e.Str(w.Type.String())
		e.FieldStart("id")
		e.Int64(int64(w.ID))
		if w.Op == WritePut {
			e.FieldStart("props")
			EncodeValue(e, w.Props)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func decodeRecord(data []byte) (commitRecord, error) {
	var r commitRecord
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "seq":
			v, err := d.UInt64()
			r.Seq = v
			return err
		case "txn":
			v, err := d.UInt64()
			r.TxnID = common.TxnID(v)
			return err
		case "writes":
			return d.Arr(func(d *jx.Decoder) error {
				w, err := decodeWrite(d)
				if err != nil {
					return err
				}
				r.Writes = append(r.Writes, w)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return r, errors.Wrap(err, "decode commit record")
	}
	return r, nil
}

func decodeWrite(d *jx.Decoder) (Write, error) {
	var w Write
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "op":
			s, err := d.Str()
			if err != nil {
				return err
			}
			switch s {
			case "put":
				w.Op = WritePut
			case "delete":
				w.Op = WriteDelete
			default:
				return errors.Errorf("unknown write op %q", s)
			}
			return nil
		case "type":
			s, err := d.Str()
			if err != nil {
				return err
			}
			w.Type, err = locking.ParseResourceType(s)
			return err
		case "id":
			v, err := d.Int64()
			w.ID = locking.ResourceID(v)
			return err
		case "props":
			v, err := DecodeValue(d)
			if err != nil {
				return err
			}
			props, ok := v.(map[string]any)
			if !ok {
				return errors.New("props must be an object")
			}
			w.Props = props
			return nil
		default:
			return d.Skip()
		}
	})
	return w, err
}
