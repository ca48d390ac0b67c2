package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	levelNames = map[LogLevel]string{
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
	}

	levelColors = map[LogLevel]string{
		DEBUG: "\033[36m", // Cyan
		INFO:  "\033[32m", // Green
		WARN:  "\033[33m", // Yellow
		ERROR: "\033[31m", // Red
	}
)

const colorReset = "\033[0m"

// levelState is shared between a logger and every child created with
// WithPrefix, so SetLevel on the root is observed by all components.
type levelState struct {
	mu    sync.RWMutex
	level LogLevel
}

func (s *levelState) get() LogLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

func (s *levelState) set(level LogLevel) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// Logger is a leveled printf-style logger with an optional component prefix.
type Logger struct {
	state        *levelState
	enableColors bool
	prefix       string
	stdLogger    *log.Logger
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// ParseLevel maps a level name to a LogLevel. Unknown names yield INFO.
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Init configures the default logger from the environment.
//   - LOG_LEVEL: DEBUG, INFO, WARN, ERROR. Default: INFO
//   - LOG_COLOR: false or 0 disables ANSI colors. Default: true
func Init() {
	enableColors := true
	if colorStr := os.Getenv("LOG_COLOR"); colorStr == "false" || colorStr == "0" {
		enableColors = false
	}
	Configure(ParseLevel(os.Getenv("LOG_LEVEL")), enableColors)
}

// Configure replaces the default logger.
func Configure(level LogLevel, enableColors bool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = New(level, os.Stdout, enableColors, "")
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, enableColors bool, prefix string) *Logger {
	return &Logger{
		state:        &levelState{level: level},
		enableColors: enableColors,
		prefix:       prefix,
		stdLogger:    log.New(output, "", log.LstdFlags),
	}
}

// SetLevel changes the level for this logger and all of its children.
func (l *Logger) SetLevel(level LogLevel) {
	l.state.set(level)
}

func (l *Logger) GetLevel() LogLevel {
	return l.state.get()
}

func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return level >= l.state.get()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.IsLevelEnabled(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	tag := "[" + levelNames[level] + "]"
	if l.enableColors {
		tag = levelColors[level] + tag + colorReset
	}

	var output string
	if l.prefix != "" {
		output = fmt.Sprintf("%s [%s] %s", tag, l.prefix, msg)
	} else {
		output = fmt.Sprintf("%s %s", tag, msg)
	}

	l.stdLogger.Output(3, output)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// WithPrefix returns a child logger. Prefixes nest with a colon, so
// WithPrefix("Session").WithPrefix("CA12") logs as [Session:CA12].
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l.prefix != "" {
		prefix = l.prefix + ":" + prefix
	}
	return &Logger{
		state:        l.state,
		enableColors: l.enableColors,
		prefix:       prefix,
		stdLogger:    l.stdLogger,
	}
}

// Global convenience functions that use the default logger

// GetDefault returns the default logger, initializing it from the
// environment on first use.
func GetDefault() *Logger {
	defaultMu.Lock()
	l := defaultLogger
	defaultMu.Unlock()
	if l != nil {
		return l
	}
	Init()
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger
}

func SetLevel(level LogLevel) {
	GetDefault().SetLevel(level)
}

func GetLevel() LogLevel {
	return GetDefault().GetLevel()
}

func IsDebugEnabled() bool {
	return GetDefault().IsLevelEnabled(DEBUG)
}

func Debug(format string, args ...interface{}) {
	GetDefault().log(DEBUG, format, args...)
}

func Info(format string, args ...interface{}) {
	GetDefault().log(INFO, format, args...)
}

func Warn(format string, args ...interface{}) {
	GetDefault().log(WARN, format, args...)
}

func Error(format string, args ...interface{}) {
	GetDefault().log(ERROR, format, args...)
}

// WithPrefix creates a child of the default logger.
func WithPrefix(prefix string) *Logger {
	return GetDefault().WithPrefix(prefix)
}
