package core

import "context"

// Tag keys an operation metric may carry. Recorders with a fixed label set
// use MetricTagKeys as that set.
const (
	TagOperation = "operation"
	TagStatus    = "status"
	TagRole      = "role"
	TagDirection = "direction"
	TagEventType = "event_type"
)

var MetricTagKeys = []string{TagOperation, TagStatus, TagRole, TagDirection, TagEventType}

// MetricPrefix starts every metric name the oracle records.
const MetricPrefix = "oracle"

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}
