// Package logger provides a thin structured-logging wrapper around
// zerolog, shared by the storage core and the admin/status server.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Config controls how a Logger renders and where it writes.
type Config struct {
	Level      zerolog.Level
	Pretty     bool
	Output     io.Writer
	WithCaller bool
}

// Logger wraps a zerolog.Logger with a handful of domain-tagged helpers.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger builds a Logger from cfg, writing to os.Stderr when Output is
// nil. A zero-valued Level is zerolog.DebugLevel.
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.WithCaller {
		ctx = ctx.Caller()
	}
	zl := ctx.Logger().Level(cfg.Level)

	return &Logger{zlog: zl}
}

// GetZerolog exposes the underlying zerolog.Logger for callers that need
// finer control than the wrapper provides.
func (l *Logger) GetZerolog() zerolog.Logger { return l.zlog }

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.zlog.Fatal() }

// WithFields returns a derived Logger with the given fields attached to
// every subsequent event.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// StorageLogger returns a sub-logger tagged for page/transaction/commit
// events emitted by pkg/tsdb.
func (l *Logger) StorageLogger() *Logger {
	return l.WithFields(map[string]interface{}{"component": "storage"})
}

// GrpcLogger returns a sub-logger tagged for the admin/status gRPC
// server's request handling.
func (l *Logger) GrpcLogger() *Logger {
	return l.WithFields(map[string]interface{}{"component": "grpc"})
}

// LogStorageOp logs a single storage-engine operation at Debug level
// with series/page/duration fields attached.
func (l *Logger) LogStorageOp(op string, seriesID uint64, pageID uint64, durationMs float64) {
	l.zlog.Debug().
		Str("op", op).
		Uint64("series_id", seriesID).
		Uint64("page_id", pageID).
		Float64("duration_ms", durationMs).
		Msg("storage operation")
}

// LogGrpcRequest logs one admin/status RPC call.
func (l *Logger) LogGrpcRequest(method string, durationMs float64, err error) {
	ev := l.zlog.Info().Str("method", method).Float64("duration_ms", durationMs)
	if err != nil {
		ev = l.zlog.Error().Str("method", method).Float64("duration_ms", durationMs).Err(err)
	}
	ev.Msg("grpc request")
}

func (l *Logger) LogServerStart(addr string) {
	l.zlog.Info().Str("addr", addr).Msg("server starting")
}

func (l *Logger) LogServerReady(addr string) {
	l.zlog.Info().Str("addr", addr).Msg("server ready")
}

func (l *Logger) LogServerShutdown() {
	l.zlog.Info().Msg("server shutting down")
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger installs l as the process-wide logger, for code paths
// that cannot thread one through explicitly (tsdb.Open derives each
// Database's storage logger from it).
func InitGlobalLogger(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalLogger returns the process-wide logger, initializing a
// default one (Info level, stderr) on first use if none was installed.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	l = NewLogger(Config{Level: zerolog.InfoLevel})
	InitGlobalLogger(l)
	return l
}
