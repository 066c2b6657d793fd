package core

import (
	"context"
	"sync"
)

type stubLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *stubLogger) Trace(string, ...any) {}
func (l *stubLogger) Debug(string, ...any) {}
func (l *stubLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}
func (l *stubLogger) Warn(string, ...any) {}
func (l *stubLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}
func (l *stubLogger) Fatal(string, ...any) {}
func (l *stubLogger) WithContext(context.Context) Logger {
	return l
}

type recordingMetrics struct {
	counters   []string
	histograms []string
	tags       map[string]string
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, _ int64, tags map[string]string) {
	m.counters = append(m.counters, name)
	m.tags = tags
}

func (m *recordingMetrics) ObserveHistogram(_ context.Context, name string, _ float64, _ map[string]string) {
	m.histograms = append(m.histograms, name)
}
