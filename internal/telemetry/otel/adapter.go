package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"identity-platform/trustcore/internal/audit/domain"
)

// recordLogger is the slice of otellog.Logger the emitter uses. Tests
// substitute a capture implementation.
type recordLogger interface {
	Emit(ctx context.Context, record otellog.Record)
}

// EventEmitter sends security events to the OTLP log pipeline so they can be
// correlated with traces in the collector. Best-effort; it never blocks the
// request that produced the event.
type EventEmitter struct {
	logger recordLogger
}

// NewEventEmitter returns an emitter backed by the given LoggerProvider.
// A nil provider yields a nil emitter, which callers treat as "no sink".
func NewEventEmitter(provider *sdklog.LoggerProvider) *EventEmitter {
	if provider == nil {
		return nil
	}
	return &EventEmitter{logger: provider.Logger("trustcore.audit")}
}

// NewEventEmitterWithLogger returns an emitter writing to the given logger.
func NewEventEmitterWithLogger(logger recordLogger) *EventEmitter {
	return &EventEmitter{logger: logger}
}

// Emit converts the event to an OTel log record and hands it to the batch
// processor. The record carries the event fields as attributes and the
// metadata payload as the body.
func (e *EventEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) {
	if e == nil || event == nil {
		return
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	if event.Metadata != "" {
		rec.SetBody(otellog.StringValue(event.Metadata))
	}
	rec.AddAttributes(
		otellog.String("org_id", event.OrgID),
		otellog.String("action", event.Action),
		otellog.String("resource", event.Resource),
	)
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.IP != "" {
		rec.AddAttributes(otellog.String("ip", event.IP))
	}
	e.logger.Emit(ctx, rec)
}
