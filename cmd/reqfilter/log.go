package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/shirou/gopsutil/v3/process"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger returns a logger configured with c.  out is the rotated log file,
// it is nil if the logs are written to stderr.
func newLogger(c *logConfig) (l *slog.Logger, out io.WriteCloser) {
	lvl := slog.LevelInfo
	if c.Verbose {
		lvl = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if c.File != "" {
		out = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
		}
		w = out
	}

	return slogutil.New(&slogutil.Config{
		Output:       w,
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	}), out
}

// logMemory logs the heap and RSS memory sizes, in kibibytes.
func logMemory(ctx context.Context, l *slog.Logger) {
	ms := &runtime.MemStats{}
	runtime.ReadMemStats(ms)

	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		l.DebugContext(ctx, "getting process", slogutil.KeyError, err)

		return
	}

	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		l.DebugContext(ctx, "getting memory info", slogutil.KeyError, err)

		return
	}

	l.InfoContext(ctx, "memory usage", "heap_kib", ms.Alloc/1024, "rss_kib", mi.RSS/1024)
}
