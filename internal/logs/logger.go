// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logs provides the leveled, per-subsystem logging backend used
// throughout ordhookd. It mirrors the teacher's subsystem-logger registry:
// a single rotating backend feeds a handful of named loggers, one per
// subsystem, so that verbosity can be tuned independently for each.
package logs

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jrick/logrotate/rotator"
)

// Level is the logging severity of a log line.
type Level uint8

// Severity levels, ordered least to most severe.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

var levelNames = [...]string{"TRC", "DBG", "INF", "WRN", "ERR", "CRT", "OFF"}

func (l Level) String() string {
	if int(l) >= len(levelNames) {
		return "UNK"
	}
	return levelNames[l]
}

// ParseLevel maps a lowercase level name (trace, debug, info, warn, error,
// critical, off) to a Level, defaulting to LevelInfo for anything unknown.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "critical", "fatal":
		return LevelCritical
	case "off", "none":
		return LevelOff
	default:
		return LevelInfo
	}
}

type logWriter struct {
	mu  sync.Mutex
	out io.Writer
	rot *rotator.Rotator
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out != nil {
		w.out.Write(p)
	}
	if w.rot != nil {
		w.rot.Write(p)
	}
	return len(p), nil
}

var (
	backend   = &logWriter{out: os.Stdout}
	mu        sync.Mutex
	loggers   = make(map[string]*Logger)
	initiated bool
)

// InitRotator opens the rotating log file at logFile, rolling it once it
// exceeds maxRollMB megabytes and keeping at most maxFiles old copies. It
// must be called once during startup, before any subsystem logger is used
// for file output; loggers created beforehand continue to write to stdout
// only.
func InitRotator(logFile string, maxRollMB, maxFiles int) error {
	mu.Lock()
	defer mu.Unlock()

	logDir := dirOf(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	r, err := rotator.New(logFile, int64(maxRollMB*1024), false, maxFiles)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	backend.mu.Lock()
	backend.rot = r
	backend.mu.Unlock()
	initiated = true
	return nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, os.PathSeparator)
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Logger is a per-subsystem leveled logger.
type Logger struct {
	tag   string
	level Level
}

// Subsystem returns the named subsystem logger, creating it at LevelInfo the
// first time it is requested. Standard ordhookd subsystem tags are SCRP
// (fork scratch pad), PIPE (download pipeline), SATS (satoshi tracer), ORDS
// (inscription sequencer), BR20 (BRC-20 engine), SRVC (service runloop),
// BTCD (bitcoind client), BLKS (block store), ODBS (ordinals DB), B20D
// (BRC-20 DB), METR (metrics), MIGR (migrations), and MAIN (CLI).
func Subsystem(tag string) *Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[tag]; ok {
		return l
	}
	l := &Logger{tag: tag, level: LevelInfo}
	loggers[tag] = l
	return l
}

// SetLevels sets the verbosity of every currently registered subsystem.
func SetLevels(level Level) {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		l.level = level
	}
}

// SetLevel sets the verbosity of a single subsystem.
func (l *Logger) SetLevel(level Level) {
	mu.Lock()
	l.level = level
	mu.Unlock()
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(backend, "%s [%s] %s: %s\n", ts, level, l.tag, msg)
}

// Tracef logs at LevelTrace.
func (l *Logger) Tracef(format string, args ...interface{}) { l.log(LevelTrace, format, args...) }

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (l *Logger) Infof(format string, args ...interface{}) { l.log(LevelInfo, format, args...) }

// Warnf logs at LevelWarn.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(LevelWarn, format, args...) }

// Errorf logs at LevelError.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// Criticalf logs at LevelCritical. Callers that intend to exit after logging
// should do so explicitly; Criticalf never calls os.Exit itself.
func (l *Logger) Criticalf(format string, args ...interface{}) { l.log(LevelCritical, format, args...) }

// SubsystemTags returns the currently registered subsystem tags, sorted.
func SubsystemTags() []string {
	mu.Lock()
	defer mu.Unlock()
	tags := make([]string, 0, len(loggers))
	for tag := range loggers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
