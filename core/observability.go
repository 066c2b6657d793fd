package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Observer logs and records metrics for named operations. A nil Observer is
// a valid no-op.
type Observer struct {
	logger  Logger
	metrics MetricsRecorder
}

func NewObserver(logger Logger, metrics MetricsRecorder) *Observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &Observer{logger: logger, metrics: metrics}
}

func (o *Observer) Logger() Logger {
	if o == nil {
		return nil
	}
	return o.logger
}

func (o *Observer) Metrics() MetricsRecorder {
	if o == nil || o.metrics == nil {
		return NopMetricsRecorder{}
	}
	return o.metrics
}

// ObserveOperation counts operation under oracle.<operation>.total, times it
// under oracle.<operation>.duration_ms and logs the outcome. Role, direction
// and event_type fields become metric tags.
func (o *Observer) ObserveOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if o == nil {
		return
	}
	operation = operationKey(operation)
	elapsed := time.Since(startedAt).Milliseconds()
	status := "success"
	if err != nil {
		status = "failure"
	}

	tags := map[string]string{TagOperation: operation, TagStatus: status}
	for _, key := range []string{TagRole, TagDirection, TagEventType} {
		if value, ok := fields[key]; ok && value != nil {
			if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
				tags[key] = text
			}
		}
	}
	metrics := o.Metrics()
	metrics.IncCounter(ctx, metricName(operation, "total"), 1, maps.Clone(tags))
	metrics.ObserveHistogram(ctx, metricName(operation, "duration_ms"), float64(elapsed), tags)

	logged := withFields(fields, map[string]any{
		TagOperation:  operation,
		TagStatus:     status,
		"duration_ms": elapsed,
	})
	if err != nil {
		logged["error"] = err.Error()
		o.Error(ctx, operation+" failed", logged)
		return
	}
	o.Info(ctx, operation+" succeeded", logged)
}

func (o *Observer) Debug(ctx context.Context, message string, fields map[string]any) {
	o.emit(ctx, fields, func(l Logger, args ...any) { l.Debug(message, args...) })
}

func (o *Observer) Info(ctx context.Context, message string, fields map[string]any) {
	o.emit(ctx, fields, func(l Logger, args ...any) { l.Info(message, args...) })
}

func (o *Observer) Warn(ctx context.Context, message string, fields map[string]any) {
	o.emit(ctx, fields, func(l Logger, args ...any) { l.Warn(message, args...) })
}

func (o *Observer) Error(ctx context.Context, message string, fields map[string]any) {
	o.emit(ctx, fields, func(l Logger, args ...any) { l.Error(message, args...) })
}

// emit hands fields to a FieldsLogger when the logger is one, and always as
// sorted key/value args.
func (o *Observer) emit(ctx context.Context, fields map[string]any, write func(Logger, ...any)) {
	if o == nil || o.logger == nil {
		return
	}
	logger := o.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fl, ok := logger.(FieldsLogger); ok {
		logger = fl.WithFields(withFields(fields, nil))
	}
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	write(logger, args...)
}

func withFields(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

func metricName(operation, suffix string) string {
	return MetricPrefix + "." + operation + "." + suffix
}

// operationKey lowercases an operation and joins its words with
// underscores: "Process Outbound" becomes process_outbound.
func operationKey(operation string) string {
	key := strings.Join(strings.Fields(strings.ToLower(operation)), "_")
	key = strings.ReplaceAll(key, "-", "_")
	if key == "" {
		return "unknown"
	}
	return key
}
