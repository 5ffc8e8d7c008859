package transactions

import (
	"sync/atomic"

	"github.com/Blackdeer1524/GraphTxn/src/kernel"
)

// Statement is one query run inside a transaction. Records are pulled by
// the owner of the transaction.
type Statement struct {
	id     int
	text   string
	result kernel.Result
	closed atomic.Bool
}

func newStatement(id int, text string, result kernel.Result) *Statement {
	return &Statement{
		id:     id,
		text:   text,
		result: result,
	}
}

func (s *Statement) ID() int {
	return s.id
}

func (s *Statement) Text() string {
	return s.text
}

func (s *Statement) Columns() []string {
	return s.result.Columns()
}

func (s *Statement) HasNext() bool {
	return !s.closed.Load() && s.result.HasNext()
}

func (s *Statement) Next() (kernel.Record, bool) {
	if s.closed.Load() {
		return nil, false
	}
	return s.result.Next()
}

// Drain pulls every remaining record and closes the statement.
func (s *Statement) Drain() []kernel.Record {
	defer s.Close()

	var records []kernel.Record
	for {
		rec, ok := s.Next()
		if !ok {
			return records
		}
		records = append(records, rec)
	}
}

func (s *Statement) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.result.Close()
	}
}

func (s *Statement) IsClosed() bool {
	return s.closed.Load()
}
