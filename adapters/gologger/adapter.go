package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// DefaultName is the logger name used when a component does not pass one.
const DefaultName = "oracle"

// Bridge holds one resolved logger in both the glog and go-job shapes.
type Bridge struct {
	Provider    glog.LoggerProvider
	Logger      glog.Logger
	JobProvider job.LoggerProvider
	JobLogger   job.Logger
}

// Resolve picks provider over logger over a nop logger and bridges the
// result for go-job workers and queues.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) Bridge {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	bridge := Bridge{Provider: resolvedProvider, Logger: resolvedLogger}
	if resolvedProvider != nil {
		bridge.JobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	if resolvedLogger != nil {
		bridge.JobLogger = job.GoLogger(resolvedLogger)
	}
	return bridge
}

// Named returns the glog logger for a component under the bridge provider.
func (b Bridge) Named(name string) glog.Logger {
	if b.Provider == nil {
		return b.Logger
	}
	return b.Provider.GetLogger(name)
}
