package graph

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/GraphTxn/src/kernel"
	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

type verb int

const (
	verbRead verb = iota
	verbWrite
	verbDelete
	verbLock
	verbCount
)

type statement struct {
	verb   verb
	rt     locking.ResourceType
	ids    []locking.ResourceID
	shared bool
}

func (s statement) writes() bool {
	return s.verb == verbWrite || s.verb == verbDelete
}

func (s statement) columns() []string {
	switch s.verb {
	case verbRead:
		return []string{"id", "exists", "properties"}
	case verbWrite:
		return []string{"id"}
	case verbDelete:
		return []string{"id", "deleted"}
	case verbLock:
		return []string{"id", "mode"}
	default:
		return []string{"count"}
	}
}

func syntaxError(text string, format string, args ...any) error {
	return errors.Wrapf(ErrSyntax, "%q: "+format, append([]any{text}, args...)...)
}

func parseResource(text, token string) (locking.ResourceType, error) {
	rt, err := locking.ParseResourceType(token)
	if err != nil || (rt != locking.ResourceNode && rt != locking.ResourceRelationship) {
		return locking.ResourceType{}, syntaxError(text, "unknown resource %q", token)
	}
	return rt, nil
}

func parseIDs(text string, tokens []string) ([]locking.ResourceID, error) {
	ids := make([]locking.ResourceID, 0, len(tokens))
	for _, token := range tokens {
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return nil, syntaxError(text, "bad id %q", token)
		}
		ids = append(ids, locking.ResourceID(id))
	}
	return ids, nil
}

// parseStatement understands
//
//	READ <res> <id>
//	WRITE <res> <id>
//	DELETE <res> <id>
//	LOCK [SHARED] <res> <id>...
//	COUNT <res>
//
// where <res> is NODE or RELATIONSHIP.
func parseStatement(text string) (statement, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return statement{}, syntaxError(text, "empty statement")
	}

	var stmt statement
	switch strings.ToUpper(tokens[0]) {
	case "READ":
		stmt.verb = verbRead
	case "WRITE":
		stmt.verb = verbWrite
	case "DELETE":
		stmt.verb = verbDelete
	case "LOCK":
		stmt.verb = verbLock
		if len(tokens) > 1 && strings.EqualFold(tokens[1], "SHARED") {
			stmt.shared = true
			tokens = tokens[1:]
		}
	case "COUNT":
		stmt.verb = verbCount
	default:
		return statement{}, syntaxError(text, "unknown verb %q", tokens[0])
	}

	args := tokens[1:]
	if len(args) == 0 {
		return statement{}, syntaxError(text, "resource expected")
	}

	rt, err := parseResource(text, args[0])
	if err != nil {
		return statement{}, err
	}
	stmt.rt = rt

	switch stmt.verb {
	case verbCount:
		if len(args) != 1 {
			return statement{}, syntaxError(text, "unexpected arguments")
		}
	case verbLock:
		if len(args) < 2 {
			return statement{}, syntaxError(text, "at least one id expected")
		}
	default:
		if len(args) != 2 {
			return statement{}, syntaxError(text, "exactly one id expected")
		}
	}

	stmt.ids, err = parseIDs(text, args[1:])
	if err != nil {
		return statement{}, err
	}
	return stmt, nil
}

func (h *handle) run(ctx context.Context, stmt statement, params map[string]any) ([]kernel.Record, error) {
	optimistic := h.locks.Optimistic()
	pessimistic := h.locks.Pessimistic()
	tracer := h.db.tracer

	switch stmt.verb {
	case verbRead:
		id := stmt.ids[0]
		if err := optimistic.AcquireShared(ctx, tracer, stmt.rt, id); err != nil {
			return nil, err
		}
		props, ok := h.lookup(entityKey{rt: stmt.rt, id: id})
		if props == nil {
			props = map[string]any{}
		}
		return []kernel.Record{{"id": int64(id), "exists": ok, "properties": props}}, nil

	case verbWrite:
		id := stmt.ids[0]
		if err := optimistic.AcquireExclusive(ctx, tracer, stmt.rt, id); err != nil {
			return nil, err
		}
		if _, exists := h.lookup(entityKey{rt: stmt.rt, id: id}); !exists {
			if err := lockLabel(ctx, tracer, optimistic, stmt.rt); err != nil {
				return nil, err
			}
		}
		h.buffer(Write{Op: WritePut, Type: stmt.rt, ID: id, Props: utils.CloneMap(params)})
		return []kernel.Record{{"id": int64(id)}}, nil

	case verbDelete:
		id := stmt.ids[0]
		if err := optimistic.AcquireExclusive(ctx, tracer, stmt.rt, id); err != nil {
			return nil, err
		}
		_, existed := h.lookup(entityKey{rt: stmt.rt, id: id})
		if existed {
			if err := lockLabel(ctx, tracer, optimistic, stmt.rt); err != nil {
				return nil, err
			}
			h.buffer(Write{Op: WriteDelete, Type: stmt.rt, ID: id})
		}
		return []kernel.Record{{"id": int64(id), "deleted": existed}}, nil

	case verbLock:
		var err error
		if stmt.shared {
			err = pessimistic.AcquireShared(ctx, tracer, stmt.rt, stmt.ids...)
		} else {
			err = pessimistic.AcquireExclusive(ctx, tracer, stmt.rt, stmt.ids...)
		}
		if err != nil {
			return nil, err
		}
		mode := locking.LockModeOf(!stmt.shared).String()
		records := make([]kernel.Record, 0, len(stmt.ids))
		for _, id := range stmt.ids {
			records = append(records, kernel.Record{"id": int64(id), "mode": mode})
		}
		return records, nil

	case verbCount:
		if err := pessimistic.AcquireShared(ctx, tracer, locking.ResourceLabel, labelOf(stmt.rt)); err != nil {
			return nil, err
		}
		return []kernel.Record{{"count": int64(h.count(stmt.rt))}}, nil
	}

	return nil, errors.Errorf("unhandled statement %v", stmt.verb)
}

func labelOf(rt locking.ResourceType) locking.ResourceID {
	return locking.ResourceID(rt.TypeID())
}

// lockLabel is taken by statements that change the number of entities of rt,
// so a COUNT holding the shared label lock sees a stable number.
func lockLabel(ctx context.Context, tracer locking.LockTracer, client locking.Client, rt locking.ResourceType) error {
	return client.AcquireExclusive(ctx, tracer, locking.ResourceLabel, labelOf(rt))
}
