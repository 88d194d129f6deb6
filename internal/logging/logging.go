// Package logging provides the leveled stderr logger shared by every
// subcommand. The level and format are controlled with environment variables
// so that log output can be enabled without touching command lines:
//
//	MIRAKC_ARIB_LOG              log level (trace|debug|info|warn|error|none)
//	MIRAKC_ARIB_LOG_NO_TIMESTAMP omit timestamps when set to "1"
//
// Log messages go to stderr; stdout carries only TS or JSON payload.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level is a log severity. Messages below the configured level are dropped.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

var (
	level  = LevelNone
	logger = log.New(os.Stderr, "", 0)
	name   = ""
)

// Init configures the default logger from the environment. name is the
// subcommand name and appears in every log line.
func Init(cmdName string) {
	name = cmdName
	level = parseLevel(os.Getenv("MIRAKC_ARIB_LOG"))
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	if getEnvBool("MIRAKC_ARIB_LOG_NO_TIMESTAMP", false) {
		flags = 0
	}
	logger = log.New(os.Stderr, "", flags)
}

func parseLevel(v string) Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error", "err":
		return LevelError
	case "", "none", "off":
		return LevelNone
	}
	return LevelNone
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

// CurrentLevel reports the configured level.
func CurrentLevel() Level {
	return level
}

// DebugEnabled reports whether debug-level output is active. Components use
// this to skip building expensive progress dumps.
func DebugEnabled() bool {
	return level <= LevelDebug
}

func output(l Level, tag, format string, args ...any) {
	if l < level {
		return
	}
	logger.Printf("%s %s %s", tag, name, fmt.Sprintf(format, args...))
}

func Trace(format string, args ...any) { output(LevelTrace, "T", format, args...) }
func Debug(format string, args ...any) { output(LevelDebug, "D", format, args...) }
func Info(format string, args ...any)  { output(LevelInfo, "I", format, args...) }
func Warn(format string, args ...any)  { output(LevelWarn, "W", format, args...) }
func Error(format string, args ...any) { output(LevelError, "E", format, args...) }
