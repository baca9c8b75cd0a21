package otel

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"edge-guard/backend/internal/telemetry"
	"edge-guard/backend/internal/telemetry/domain"
)

const instrumentationName = "edge-guard.security"

// recordEmitter is the subset of otellog.Logger the adapter uses.
type recordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(instrumentationName))
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.SecurityEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record. Denials and failures are logged at WARN.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(severity(event.Type))
	rec.SetSeverityText(rec.Severity().String())
	if len(event.Metadata) > 0 {
		if b, err := json.Marshal(event.Metadata); err == nil {
			rec.SetBody(otellog.BytesValue(b))
		}
	}
	addString(&rec, "event_type", event.Type)
	addString(&rec, "source", event.Source)
	addString(&rec, "reason", event.Reason)
	if event.UserID != 0 {
		rec.AddAttributes(otellog.String("user_id", strconv.FormatInt(event.UserID, 10)))
	}
	addString(&rec, "username", event.Username)
	addString(&rec, "client_ip", event.ClientIP)
	addString(&rec, "http.method", event.Method)
	addString(&rec, "http.path", event.Path)
	if event.Status != 0 {
		rec.AddAttributes(otellog.Int("http.status_code", event.Status))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func addString(rec *otellog.Record, key, value string) {
	if value != "" {
		rec.AddAttributes(otellog.String(key, value))
	}
}

func severity(eventType string) otellog.Severity {
	switch eventType {
	case domain.EventLoginFailed, domain.EventRefreshRejected, domain.EventRequestRejected:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
