package locking

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Blackdeer1524/GraphTxn/src/pkg/common"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

// LockWaitEvent is open for as long as a client blocks on a lock.
type LockWaitEvent interface {
	Close()
}

type LockTracer interface {
	WaitForLock(
		ctx context.Context,
		mode LockMode,
		rt ResourceType,
		txID common.TxnID,
		ids ...ResourceID,
	) LockWaitEvent
}

type noneTracer struct{}

type noneEvent struct{}

func (noneEvent) Close() {}

func (noneTracer) WaitForLock(context.Context, LockMode, ResourceType, common.TxnID, ...ResourceID) LockWaitEvent {
	return noneEvent{}
}

var NoneTracer LockTracer = noneTracer{}

// OtelTracer opens a span for every lock wait and counts the waits.
type OtelTracer struct {
	tracer trace.Tracer
	waits  metric.Int64Counter
}

var _ LockTracer = &OtelTracer{}

func NewOtelTracer(tracer trace.Tracer, meter metric.Meter) *OtelTracer {
	return &OtelTracer{
		tracer: tracer,
		waits: utils.Must(meter.Int64Counter(
			"graphtxn.lock.waits",
			metric.WithDescription("number of blocking lock waits"),
		)),
	}
}

type otelEvent struct {
	span trace.Span
}

func (e otelEvent) Close() {
	e.span.End()
}

func (t *OtelTracer) WaitForLock(
	ctx context.Context,
	mode LockMode,
	rt ResourceType,
	txID common.TxnID,
	ids ...ResourceID,
) LockWaitEvent {
	attrs := []attribute.KeyValue{
		attribute.String("lock.mode", mode.String()),
		attribute.String("lock.resource_type", rt.String()),
		attribute.Int("lock.resources", len(ids)),
		attribute.String("txn.id", txID.String()),
	}
	t.waits.Add(ctx, 1, metric.WithAttributes(attrs...))

	_, span := t.tracer.Start(ctx, "lock.wait", trace.WithAttributes(attrs...))
	return otelEvent{span: span}
}
