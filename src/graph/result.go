package graph

import (
	"slices"

	"github.com/Blackdeer1524/GraphTxn/src/kernel"
)

// listResult streams records that were fully materialized by the
// statement.
type listResult struct {
	columns []string
	records []kernel.Record
	pos     int
	closed  bool
}

var _ kernel.Result = &listResult{}

func newListResult(columns []string, records []kernel.Record) *listResult {
	return &listResult{
		columns: columns,
		records: records,
	}
}

func (r *listResult) Columns() []string {
	return slices.Clone(r.columns)
}

func (r *listResult) HasNext() bool {
	return !r.closed && r.pos < len(r.records)
}

func (r *listResult) Next() (kernel.Record, bool) {
	if !r.HasNext() {
		return nil, false
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, true
}

func (r *listResult) Close() {
	r.closed = true
	r.records = nil
}
