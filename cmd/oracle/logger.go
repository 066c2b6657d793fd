package main

import (
	"context"
	"log/slog"
	"os"

	glog "github.com/goliatone/go-logger/glog"
)

// slogLogger writes glog calls as JSON lines through log/slog.
type slogLogger struct {
	base *slog.Logger
	ctx  context.Context
}

func newLogger(debug bool) *slogLogger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogLogger{base: slog.New(handler), ctx: context.Background()}
}

func (l *slogLogger) Trace(msg string, args ...any) {
	l.base.Log(l.ctx, slog.LevelDebug-4, msg, args...)
}

func (l *slogLogger) Debug(msg string, args ...any) {
	l.base.DebugContext(l.ctx, msg, args...)
}

func (l *slogLogger) Info(msg string, args ...any) {
	l.base.InfoContext(l.ctx, msg, args...)
}

func (l *slogLogger) Warn(msg string, args ...any) {
	l.base.WarnContext(l.ctx, msg, args...)
}

func (l *slogLogger) Error(msg string, args ...any) {
	l.base.ErrorContext(l.ctx, msg, args...)
}

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.base.Log(l.ctx, slog.LevelError+4, msg, args...)
	os.Exit(exitRuntimeError)
}

func (l *slogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &slogLogger{base: l.base, ctx: ctx}
}

var _ glog.Logger = (*slogLogger)(nil)
