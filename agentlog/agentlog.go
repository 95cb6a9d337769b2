// Copyright (c) 2018,2024 Zededa, Inc.
// SPDX-License-Identifier: Apache-2.0

package agentlog

import (
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/lf-edge/eve/pkg/devinfo/base"
	"github.com/sirupsen/logrus"
)

// LogFunc receives every entry the logger lets through, with the syslog
// priority of the entry and the location of the code which emitted it.
type LogFunc func(priority int, file string, line int, fn string, msg string)

// SourceHook is used to add source and pid if not already set
type SourceHook struct {
	source string
	pid    int
}

// Fire adds source and pid if not already set
func (hook *SourceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["source"]; !ok {
		entry.Data["source"] = hook.source
	}
	if _, ok := entry.Data["pid"]; !ok {
		entry.Data["pid"] = hook.pid
	}
	return nil
}

// Levels installs the SourceHook for all levels
func (hook *SourceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// SkipCallerHook is used to skip to the "base" package entry in the stack
// so the reported caller is the code calling LogObject, not LogObject.
type SkipCallerHook struct {
}

// Fire does the skipping
func (hook *SkipCallerHook) Fire(entry *logrus.Entry) error {
	const maximumCallerDepth = 25
	if entry.Caller == nil {
		return nil
	}
	if !strings.HasSuffix(getPackageName(entry.Caller.Function), "/base") {
		return nil
	}
	pcs := make([]uintptr, maximumCallerDepth)
	depth := runtime.Callers(0, pcs)
	frames := runtime.CallersFrames(pcs[:depth])

	next := false
	for f, again := frames.Next(); again; f, again = frames.Next() {
		if next {
			if strings.HasSuffix(getPackageName(f.Function), "/base") {
				continue
			}
			caller := f
			entry.Caller = &caller
			break
		}
		if f.Function == entry.Caller.Function && f.Line == entry.Caller.Line {
			next = true
		}
	}
	return nil
}

// Levels installs the SkipCallerHook for all levels
func (hook *SkipCallerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// getPackageName reduces a fully qualified function name to the package name
// From logrus
func getPackageName(f string) string {
	for {
		lastPeriod := strings.LastIndex(f, ".")
		lastSlash := strings.LastIndex(f, "/")
		if lastPeriod > lastSlash {
			f = f[:lastPeriod]
		} else {
			break
		}
	}

	return f
}

// CallbackHook forwards entries to a registered LogFunc. While a function
// is registered the logger's own output is discarded.
type CallbackHook struct {
	mu     sync.Mutex
	fn     LogFunc
	logger *logrus.Logger
	output io.Writer
}

// Fire calls the registered function, if any
func (hook *CallbackHook) Fire(entry *logrus.Entry) error {
	hook.mu.Lock()
	fn := hook.fn
	hook.mu.Unlock()
	if fn == nil {
		return nil
	}
	var (
		file     string
		line     int
		function string
	)
	if entry.Caller != nil {
		file = entry.Caller.File
		line = entry.Caller.Line
		function = entry.Caller.Function
	}
	fn(LevelToPriority(entry.Level), file, line, function, entry.Message)
	return nil
}

// Levels installs the CallbackHook for all levels
func (hook *CallbackHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// SetFunc registers fn; nil restores the logger's own output.
func (hook *CallbackHook) SetFunc(fn LogFunc) {
	hook.mu.Lock()
	defer hook.mu.Unlock()
	hook.fn = fn
	if fn != nil {
		hook.logger.SetOutput(io.Discard)
	} else {
		hook.logger.SetOutput(hook.output)
	}
}

// Init creates a private logger for source. Entries below priority are
// dropped. The returned hook is used to register a LogFunc later on.
func Init(source string, priority int) (*logrus.Logger, *base.LogObject, *CallbackHook) {
	return InitWithOutput(source, priority, os.Stderr)
}

// InitWithOutput is Init writing to output instead of stderr
func InitWithOutput(source string, priority int, output io.Writer) (*logrus.Logger, *base.LogObject, *CallbackHook) {
	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	logger.SetReportCaller(true)
	logger.SetLevel(PriorityToLevel(priority))

	pid := os.Getpid()
	// order matters, the caller must be fixed up before the callback sees it
	logger.AddHook(&SkipCallerHook{})
	logger.AddHook(&SourceHook{source: source, pid: pid})
	hook := &CallbackHook{logger: logger, output: output}
	logger.AddHook(hook)

	log := base.NewSourceLogObject(logger, source, pid)
	return logger, log, hook
}
