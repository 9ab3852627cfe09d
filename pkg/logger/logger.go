// Package logger owns the process logger, backed by zerolog.
//
// Init configures it once at startup. Code that runs before Init, or in
// tests, gets a disabled logger from Component instead of a panic; Get is for
// callers that must not run unconfigured. Per-request children travel on the
// request context through WithRequest and Ctx.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger behaviour at initialisation time.
type Options struct {
	// Level is trace, debug, info, warn or error. Anything else means info.
	Level string
	// Pretty writes coloured console lines instead of JSON.
	Pretty bool
	// Service is attached to every entry as the "service" field when set.
	Service string
	// Output defaults to os.Stdout.
	Output io.Writer
}

var (
	mu    sync.RWMutex
	base  zerolog.Logger
	ready bool
)

// Init configures the shared logger. Only the first call after start (or
// after Reset) has any effect.
func Init(opts Options) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if ready {
		return base
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(lvl)

	zctx := zerolog.New(out).Level(lvl).With().Timestamp().Caller()
	if opts.Service != "" {
		zctx = zctx.Str("service", opts.Service)
	}
	base = zctx.Logger()
	ready = true
	return base
}

// Get returns the shared logger. Panics if Init has not been called yet.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !ready {
		panic("logger: Get() called before Init()")
	}
	return base
}

// Component returns a child tagged with a "component" field, or a disabled
// logger before Init.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !ready {
		return zerolog.Nop()
	}
	return base.With().Str("component", name).Logger()
}

// WithRequest returns ctx carrying a child tagged with the request id and the
// route policy serving it.
func WithRequest(ctx context.Context, requestID, route string) context.Context {
	l := Component("http").With().
		Str("request_id", requestID).
		Str("route", route).
		Logger()
	return l.WithContext(ctx)
}

// Ctx returns the request logger carried by ctx, or fallback when ctx has
// none or it is disabled.
func Ctx(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}

// Reset drops the configured logger so the next Init rebuilds it. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.Logger{}
	ready = false
}

func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel || lvl > zerolog.ErrorLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
