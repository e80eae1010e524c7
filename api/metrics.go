package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "taskmaster/api"
	requestSpanName    = "taskmaster.api.request"
	requestEventName   = "http.request"
	requestEventDomain = "taskmaster.api"
	attrPrefix         = "taskmaster.api."
)

// requestMetrics records one request as a span plus an observability.event
// log entry carrying the same attributes.
type requestMetrics struct {
	logger        *log.Logger
	route         string
	start         time.Time
	span          trace.Span
	storeDuration time.Duration
	tasksReturned int
	modified      int
	action        string
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &requestMetrics{
		logger:        logger,
		route:         route,
		start:         time.Now(),
		span:          span,
		tasksReturned: -1,
		modified:      -1,
	}, spanCtx
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if d <= 0 {
		return
	}
	m.storeDuration += d
}

func (m *requestMetrics) SetTasksReturned(n int) {
	if n < 0 {
		n = 0
	}
	m.tasksReturned = n
}

func (m *requestMetrics) SetModified(n int) {
	if n < 0 {
		n = 0
	}
	m.modified = n
}

func (m *requestMetrics) SetAction(action string) { m.action = action }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := map[string]any{
		"http.route":            m.route,
		"http.status_code":      status,
		attrPrefix + "total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.storeDuration > 0 {
		attrs[attrPrefix+"store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.tasksReturned >= 0 {
		attrs[attrPrefix+"tasks_returned"] = m.tasksReturned
	}
	if m.modified >= 0 {
		attrs[attrPrefix+"modified"] = m.modified
	}
	if m.action != "" {
		attrs[attrPrefix+"action"] = m.action
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		eventAttrs := append(toAttributes(attrs),
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		)
		m.span.SetAttributes(
			attribute.String("http.route", m.route),
			attribute.Int64("http.status_code", int64(status)),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String(attrPrefix+"error_stage", m.errorStage))
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severityNumber {
	case severityError:
		entry.Error("observability.event")
	case severityWarn:
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

const (
	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", severityError
	case status >= http.StatusBadRequest:
		return "WARN", severityWarn
	case err != nil:
		return "ERROR", severityError
	default:
		return "INFO", severityInfo
	}
}

func toAttributes(m map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(m))
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
