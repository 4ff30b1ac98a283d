package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	attrToolName  = attribute.Key("tool.name")
	attrToolError = attribute.Key("tool.error")
	attrSessionID = attribute.Key("session.id")
	attrErrorKind = attribute.Key("error.kind")
)

type metrics struct {
	toolCalls    metric.Int64Counter
	toolLatency  metric.Float64Histogram
	batchActions metric.Int64Counter
	batchFailed  metric.Int64Counter
	lockWait     metric.Float64Histogram
}

// ToolData captures the metadata recorded for each tool call.
type ToolData struct {
	Name      string
	SessionID string
	Duration  time.Duration
	ErrorKind string
	Error     error
}

// BatchData captures the shape of one finished batch run.
type BatchData struct {
	Actions int
	Failed  int
}

// LockWaitData captures one session-lock acquisition.
type LockWaitData struct {
	Wait time.Duration
}

func newMetrics(m metric.Meter) (*metrics, error) {
	if m == nil {
		return &metrics{}, nil
	}
	toolCalls, err := m.Int64Counter("tool.calls.total", metric.WithDescription("Total number of tool invocations."))
	if err != nil {
		return nil, err
	}
	toolLatency, err := m.Float64Histogram("tool.latency.ms", metric.WithDescription("Tool call latency in milliseconds."), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	batchActions, err := m.Int64Counter("batch.actions.total", metric.WithDescription("Total batch actions executed."))
	if err != nil {
		return nil, err
	}
	batchFailed, err := m.Int64Counter("batch.actions.failed", metric.WithDescription("Batch actions that ended in error."))
	if err != nil {
		return nil, err
	}
	lockWait, err := m.Float64Histogram("session.lock.wait.ms", metric.WithDescription("Time spent waiting for the session lock."), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &metrics{
		toolCalls:    toolCalls,
		toolLatency:  toolLatency,
		batchActions: batchActions,
		batchFailed:  batchFailed,
		lockWait:     lockWait,
	}, nil
}

func (m *metrics) RecordToolCall(ctx context.Context, data ToolData) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{attrToolName.String(data.Name)}
	if data.SessionID != "" {
		attrs = append(attrs, attrSessionID.String(data.SessionID))
	}
	if data.Error != nil {
		attrs = append(attrs, attrToolError.Bool(true))
		if data.ErrorKind != "" {
			attrs = append(attrs, attrErrorKind.String(data.ErrorKind))
		}
	}
	opt := metric.WithAttributes(attrs...)
	m.toolCalls.Add(ctx, 1, opt)
	m.toolLatency.Record(ctx, float64(data.Duration)/float64(time.Millisecond), opt)
}

func (m *metrics) RecordBatch(ctx context.Context, data BatchData) {
	if m == nil || m.batchActions == nil {
		return
	}
	m.batchActions.Add(ctx, int64(data.Actions))
	if data.Failed > 0 {
		m.batchFailed.Add(ctx, int64(data.Failed))
	}
}

func (m *metrics) RecordLockWait(ctx context.Context, data LockWaitData) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.Record(ctx, float64(data.Wait)/float64(time.Millisecond))
}
