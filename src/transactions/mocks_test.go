package transactions

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/GraphTxn/src/kernel"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/optional"
)

type MockHandle struct {
	mock.Mock
}

var _ kernel.Handle = &MockHandle{}

func (m *MockHandle) ID() int64 {
	return m.Called().Get(0).(int64)
}

func (m *MockHandle) Execute(
	ctx context.Context,
	text string,
	params map[string]any,
) (kernel.Result, error) {
	args := m.Called(ctx, text, params)
	res, _ := args.Get(0).(kernel.Result)
	return res, args.Error(1)
}

func (m *MockHandle) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockHandle) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockHandle) Close() error {
	return m.Called().Error(0)
}

func (m *MockHandle) Bookmark() kernel.Bookmark {
	return m.Called().Get(0).(kernel.Bookmark)
}

func (m *MockHandle) MarkForTermination(reason kernel.Status) bool {
	return m.Called(reason).Bool(0)
}

func (m *MockHandle) ReasonIfTerminated() optional.Optional[kernel.Status] {
	return m.Called().Get(0).(optional.Optional[kernel.Status])
}

func (m *MockHandle) Metadata() map[string]any {
	md, _ := m.Called().Get(0).(map[string]any)
	return md
}

func (m *MockHandle) ImpersonatedUser() string {
	return m.Called().String(0)
}

type sliceResult struct {
	columns []string
	records []kernel.Record
	closed  bool
}

func newSliceResult(records ...kernel.Record) *sliceResult {
	return &sliceResult{columns: []string{"id"}, records: records}
}

func (r *sliceResult) Columns() []string { return r.columns }

func (r *sliceResult) HasNext() bool { return !r.closed && len(r.records) > 0 }

func (r *sliceResult) Next() (kernel.Record, bool) {
	if !r.HasNext() {
		return nil, false
	}
	rec := r.records[0]
	r.records = r.records[1:]
	return rec, true
}

func (r *sliceResult) Close() { r.closed = true }

// stubDatabase hands out prepared handles in order.
type stubDatabase struct {
	mu       sync.Mutex
	name     string
	handles  []kernel.Handle
	err      error
	requests []kernel.BeginRequest
}

func (d *stubDatabase) Name() string {
	return d.name
}

func (d *stubDatabase) Begin(_ context.Context, req kernel.BeginRequest) (kernel.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)
	if d.err != nil {
		return nil, d.err
	}
	h := d.handles[0]
	d.handles = d.handles[1:]
	return h, nil
}

type stubOwner map[string]kernel.Database

func (o stubOwner) ResolveDatabase(name string) (kernel.Database, bool) {
	db, ok := o[name]
	return db, ok
}
