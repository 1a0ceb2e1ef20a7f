package remote

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName     = "board-sync/remote"
	requestLogName = "remote.request"
)

type requestObservation struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
	method string
	route  string
}

func (c *Client) observe(ctx context.Context, method, route string) (context.Context, *requestObservation) {
	ctx, span := c.tracer.Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return ctx, &requestObservation{
		logger: c.logger,
		span:   span,
		start:  time.Now(),
		method: method,
		route:  route,
	}
}

// Finish records the outcome on the span and emits one structured log entry.
func (o *requestObservation) Finish(status, bytes int, err error) {
	if o == nil {
		return
	}
	elapsed := time.Since(o.start)

	if status > 0 {
		o.span.SetAttributes(attribute.Int("http.status_code", status))
	}
	o.span.SetAttributes(attribute.Int("board.response_bytes", bytes))
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.End()

	if o.logger == nil {
		return
	}
	fields := log.Fields{
		"method":   o.method,
		"route":    o.route,
		"status":   status,
		"bytes":    bytes,
		"total_ms": durationToMillis(elapsed),
	}
	if err != nil {
		fields["error"] = err.Error()
		o.logger.WithFields(fields).Warn(requestLogName)
		return
	}
	o.logger.WithFields(fields).Debug(requestLogName)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
