// Package logging builds the zerolog.Logger every OctopusMQ component writes
// through, following the console/file dual-writer split and the
// swappable-file-handle reopen pattern from pkg/atlas/server.go
// (configureLogging) and pkg/atlas/util.go (zerologWriterLevel).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/octopus-mq/octopusmq/internal/config"
)

// Category names the six message classes this repository logs at, a
// domain-specific vocabulary layered on top of zerolog's own level names.
type Category string

const (
	CategoryInfo    Category = "info"
	CategoryNote    Category = "note"
	CategoryWarning Category = "warning"
	CategoryError   Category = "error"
	CategoryFatal   Category = "fatal"
	CategoryMore    Category = "more" // verbose / trace-level diagnostics
)

// levelFor maps a Category onto the zerolog.Level that carries it, since
// zerolog has no native "note" or "more" level of its own.
func levelFor(c Category) zerolog.Level {
	switch c {
	case CategoryInfo:
		return zerolog.InfoLevel
	case CategoryNote:
		return zerolog.DebugLevel
	case CategoryWarning:
		return zerolog.WarnLevel
	case CategoryError:
		return zerolog.ErrorLevel
	case CategoryFatal:
		return zerolog.FatalLevel
	case CategoryMore:
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Log writes msg to l under category, the single entry point callers should
// use instead of reaching for zerolog's own Info()/Warn()/etc methods, so
// that "note" and "more" get a consistent mapping everywhere.
func Log(l zerolog.Logger, category Category, msg string) {
	l.WithLevel(levelFor(category)).Str("category", string(category)).Msg(msg)
}

// writerLevel gates writes below its configured level and allows the
// underlying io.Writer to be swapped out, used for the reopenable log file.
type writerLevel struct {
	w io.Writer
	l zerolog.Level
	m sync.Mutex
}

var _ zerolog.LevelWriter = (*writerLevel)(nil)

func newWriterLevel(w io.Writer, l zerolog.Level) *writerLevel {
	return &writerLevel{w: w, l: l}
}

func (wl *writerLevel) Write(p []byte) (int, error) {
	wl.m.Lock()
	defer wl.m.Unlock()
	if wl.w == nil {
		return len(p), nil
	}
	return wl.w.Write(p)
}

func (wl *writerLevel) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < wl.l {
		return len(p), nil
	}
	wl.m.Lock()
	defer wl.m.Unlock()
	if wl.w == nil {
		return len(p), nil
	}
	if lw, ok := wl.w.(zerolog.LevelWriter); ok {
		return lw.WriteLevel(l, p)
	}
	return wl.w.Write(p)
}

func (wl *writerLevel) swap(fn func(old io.Writer) io.Writer) {
	wl.m.Lock()
	defer wl.m.Unlock()
	wl.w = fn(wl.w)
}

// New builds a logger from cfg. It writes colorized, human-readable output
// to stdout unless daemon is true (daemon mode detaches logging to the
// configured file only, per the CLI's --daemon flag); if cfg.File is set, it
// additionally writes to that file and the returned reopen func closes and
// reopens the handle (for SIGHUP-triggered log rotation, same shape as
// pkg/atlas/server.go's reopen callback).
func New(cfg config.LoggingFile, daemon bool) (zerolog.Logger, func(), error) {
	level := parseLevel(cfg.Level)

	var outputs []io.Writer
	if !daemon {
		outputs = append(outputs, newWriterLevel(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, level))
	}

	var reopen func()
	if cfg.File != "" {
		path, err := filepath.Abs(cfg.File)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("logging: resolve log file: %w", err)
		}
		fw := newWriterLevel(nil, level)
		reopen = func() {
			fw.swap(func(old io.Writer) io.Writer {
				if c, ok := old.(io.Closer); ok {
					c.Close()
				}
				f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
				if err != nil {
					fmt.Fprintf(os.Stderr, "logging: open %s: %v\n", path, err)
					return nil
				}
				return f
			})
		}
		reopen()
		outputs = append(outputs, fw)
	} else {
		reopen = func() {}
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(outputs...)).Level(level).With()
	if strings.EqualFold(cfg.Timestamp, "relative") {
		start := time.Now()
		zerolog.TimestampFunc = func() time.Time { return time.Unix(0, int64(time.Since(start))) }
	}
	ctx = ctx.Timestamp()

	return ctx.Logger(), reopen, nil
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
