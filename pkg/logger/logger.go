// Package logger provides a leveled, prefix-forking Logger used throughout wspipe.
// Output is rendered by zap. Every component forks its own Logger from a parent
// so that each line carries the chain of names of the objects that produced it.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel specifies the level of spew that shoud go to the log
type LogLevel int32

const (
	// LogLevelUnknown is a default value for LogLevel. It's
	// behavior is undefined
	LogLevelUnknown LogLevel = iota

	// LogLevelPanic causes output of an error message followed by a panic
	LogLevelPanic

	// LogLevelFatal causes output of an error message followed by os.Exit(1)
	LogLevelFatal

	// LogLevelError is for unexpected error messages
	LogLevelError

	// LogLevelWarning is for Warning messages
	LogLevelWarning

	// LogLevelInfo is for Info messages
	LogLevelInfo

	// LogLevelDebug is for debug messaged
	LogLevelDebug

	// LogLevelTrace is for trace messages
	LogLevelTrace
)

var logLevelNames = [...]string{
	"unknown", "panic", "fatal", "error", "warning", "info", "debug", "trace",
}

var nameToLogLevel = func() map[string]LogLevel {
	result := make(map[string]LogLevel)
	for i, name := range logLevelNames {
		result[name] = LogLevel(i)
	}
	result["warn"] = LogLevelWarning
	return result
}()

// StringToLogLevel converts a string to a LogLevel
func StringToLogLevel(s string) LogLevel {
	result, ok := nameToLogLevel[strings.ToLower(s)]
	if !ok {
		result = LogLevelUnknown
	}
	return result
}

func (x LogLevel) String() string {
	if x < LogLevelUnknown || x > LogLevelTrace {
		x = LogLevelUnknown
	}
	return logLevelNames[x]
}

// FromString initializes a LogLevel from a string
func (x *LogLevel) FromString(s string) error {
	result := StringToLogLevel(s)
	if result == LogLevelUnknown {
		return fmt.Errorf("unknown log level: \"%s\"", s)
	}
	*x = result
	return nil
}

func (x LogLevel) zapLevel() zapcore.Level {
	switch x {
	case LogLevelPanic:
		return zapcore.PanicLevel
	case LogLevelFatal:
		return zapcore.FatalLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelWarning:
		return zapcore.WarnLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Logger is an interface for a logging component that supports logging levels and prefix forking
type Logger interface {
	// Prefix returns the Logger's prefix string (does not include ": " trailer)
	Prefix() string

	// GetLogLevel returns the current log level
	GetLogLevel() LogLevel

	// SetLogLevel changes the log level of this logger and all loggers forked from it
	SetLogLevel(logLevel LogLevel)

	// Panicf outputs a log message and then panics
	Panicf(f string, args ...interface{})

	// Fatalf outputs a log message and then exits with error status
	Fatalf(f string, args ...interface{})

	// Logf outputs to a Logger iff logging level is enabled
	Logf(logLevel LogLevel, f string, args ...interface{})

	// ELogf outputs to a Logger iff ERROR logging level is enabled
	ELogf(f string, args ...interface{})

	// WLogf outputs to a Logger iff WARNING logging level is enabled
	WLogf(f string, args ...interface{})

	// ILogf outputs to a Logger iff INFO logging level is enabled
	ILogf(f string, args ...interface{})

	// DLogf outputs to a Logger iff DEBUG logging level is enabled
	DLogf(f string, args ...interface{})

	// TLogf outputs to a Logger iff TRACE logging level is enabled
	TLogf(f string, args ...interface{})

	// Errorf returns an error object with a description string that has the
	// Logger's prefix
	Errorf(f string, args ...interface{}) error

	// Sprintf returns a string that has the Logger's prefix
	Sprintf(f string, args ...interface{}) string

	// ELogErrorf outputs an error message to a Logger iff logging level is enabled,
	// and returns an error object with a description string that has the
	// logger's prefix
	ELogErrorf(f string, args ...interface{}) error

	// WLogErrorf is ELogErrorf at WARNING level
	WLogErrorf(f string, args ...interface{}) error

	// DLogErrorf is ELogErrorf at DEBUG level
	DLogErrorf(f string, args ...interface{}) error

	// Fork creates a new Logger that has an additional formatted string appended onto
	// an existing logger's prefix (with ": " added between)
	Fork(prefix string, args ...interface{}) Logger

	// Sync flushes any buffered output
	Sync() error
}

// BasicLogger is a logical log output stream with a level filter
// and a prefix added to each output record.
type BasicLogger struct {
	prefix string
	// prefixC is prefix if prefix is empty; otherwise prefix + ": "
	prefixC string
	sugar   *zap.SugaredLogger
	// logLevel is shared by all loggers forked from the same root
	logLevel *atomic.Int32
}

type options struct {
	writer   io.Writer
	prefix   string
	logLevel LogLevel
	format   string
	file     string
}

// Option configures a Logger created with New
type Option func(*options)

// WithWriter directs log output to w. The default is os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithPrefix sets the root prefix of the Logger
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithLogLevel sets the initial log level. The default is LogLevelInfo.
func WithLogLevel(logLevel LogLevel) Option {
	return func(o *options) { o.logLevel = logLevel }
}

// WithFormat selects the encoder: "console" (the default) or "json"
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithFile additionally writes log output to a size-rotated file
func WithFile(path string) Option {
	return func(o *options) { o.file = path }
}

// New creates a new root Logger
func New(opts ...Option) (Logger, error) {
	o := &options{
		writer:   os.Stderr,
		logLevel: LogLevelInfo,
		format:   "console",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logLevel == LogLevelUnknown {
		return nil, errors.New("logger: log level must be specified")
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	var encoder zapcore.Encoder
	switch strings.ToLower(o.format) {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logger: unknown log format \"%s\"", o.format)
	}

	// Level filtering happens in BasicLogger so that trace can sit below zap's debug.
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(o.writer), zapcore.DebugLevel),
	}
	if o.file != "" {
		rotator := &lumberjack.Logger{
			Filename:   o.file,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), zapcore.DebugLevel))
	}

	level := &atomic.Int32{}
	level.Store(int32(o.logLevel))
	return newBasicLogger(zap.New(zapcore.NewTee(cores...)).Sugar(), o.prefix, level), nil
}

// NewNop returns a Logger that discards everything; useful in tests
func NewNop() Logger {
	level := &atomic.Int32{}
	level.Store(int32(LogLevelError))
	return newBasicLogger(zap.NewNop().Sugar(), "", level)
}

func newBasicLogger(sugar *zap.SugaredLogger, prefix string, level *atomic.Int32) *BasicLogger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	return &BasicLogger{
		prefix:   prefix,
		prefixC:  prefixC,
		sugar:    sugar,
		logLevel: level,
	}
}

func (l *BasicLogger) enabled(logLevel LogLevel) bool {
	return logLevel <= LogLevel(l.logLevel.Load()) || logLevel <= LogLevelFatal
}

func (l *BasicLogger) emit(logLevel LogLevel, msg string) {
	switch logLevel {
	case LogLevelPanic:
		l.sugar.Error(msg)
		_ = l.sugar.Sync()
		panic(msg)
	case LogLevelFatal:
		l.sugar.Error(msg)
		_ = l.sugar.Sync()
		os.Exit(1)
	case LogLevelError:
		l.sugar.Error(msg)
	case LogLevelWarning:
		l.sugar.Warn(msg)
	case LogLevelInfo:
		l.sugar.Info(msg)
	default:
		l.sugar.Debug(msg)
	}
}

// Logf outputs to a Logger if the given logLevel is enabled. Then,
// if the given logLevel is LogLevelPanic or LogLevelFatal, exits appropriately
func (l *BasicLogger) Logf(logLevel LogLevel, f string, args ...interface{}) {
	if l.enabled(logLevel) {
		l.emit(logLevel, l.Sprintf(f, args...))
	}
}

func (l *BasicLogger) logErrorf(logLevel LogLevel, f string, args ...interface{}) error {
	msg := l.Sprintf(f, args...)
	if l.enabled(logLevel) {
		l.emit(logLevel, msg)
	}
	return errors.New(msg)
}

// Panicf outputs a formatted log message, and then panics
func (l *BasicLogger) Panicf(f string, args ...interface{}) {
	l.Logf(LogLevelPanic, f, args...)
}

// Fatalf outputs a formatted log message, and then exits with error code 1
func (l *BasicLogger) Fatalf(f string, args ...interface{}) {
	l.Logf(LogLevelFatal, f, args...)
}

// ELogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ELogf(f string, args ...interface{}) {
	l.Logf(LogLevelError, f, args...)
}

// WLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) WLogf(f string, args ...interface{}) {
	l.Logf(LogLevelWarning, f, args...)
}

// ILogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ILogf(f string, args ...interface{}) {
	l.Logf(LogLevelInfo, f, args...)
}

// DLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) DLogf(f string, args ...interface{}) {
	l.Logf(LogLevelDebug, f, args...)
}

// TLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) TLogf(f string, args ...interface{}) {
	l.Logf(LogLevelTrace, f, args...)
}

// Errorf returns an error object with a description string that has the
// Logger's prefix
func (l *BasicLogger) Errorf(f string, args ...interface{}) error {
	return errors.New(l.Sprintf(f, args...))
}

// Sprintf returns a string that has the Logger's prefix
func (l *BasicLogger) Sprintf(f string, args ...interface{}) string {
	return l.prefixC + fmt.Sprintf(f, args...)
}

// ELogErrorf outputs an error message to a Logger iff logging level is enabled,
// and returns an error object with a description string that has the
// logger's prefix
func (l *BasicLogger) ELogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelError, f, args...)
}

// WLogErrorf outputs a warning message to a Logger iff logging level is enabled,
// and returns an error object with a description string that has the
// logger's prefix
func (l *BasicLogger) WLogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelWarning, f, args...)
}

// DLogErrorf outputs a debug message to a Logger iff logging level is enabled,
// and returns an error object with a description string that has the
// logger's prefix
func (l *BasicLogger) DLogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelDebug, f, args...)
}

// Fork creates a new Logger that has an additional formatted string appended onto
// an existing logger's prefix (with ": " added between)
func (l *BasicLogger) Fork(prefix string, args ...interface{}) Logger {
	newPrefix := l.prefixC + fmt.Sprintf(prefix, args...)
	return newBasicLogger(l.sugar, newPrefix, l.logLevel)
}

// Prefix returns the Logger's prefix string (does not include ": " trailer)
func (l *BasicLogger) Prefix() string {
	return l.prefix
}

// GetLogLevel returns the log level
func (l *BasicLogger) GetLogLevel() LogLevel {
	return LogLevel(l.logLevel.Load())
}

// SetLogLevel sets the log level
func (l *BasicLogger) SetLogLevel(logLevel LogLevel) {
	l.logLevel.Store(int32(logLevel))
}

// Sync flushes buffered log output
func (l *BasicLogger) Sync() error {
	return l.sugar.Sync()
}
