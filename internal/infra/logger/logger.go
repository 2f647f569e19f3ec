// Package logger builds the process logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"termagent/internal/domain"
	"termagent/internal/infra/config"
)

// New builds a *slog.Logger from cfg and returns a closer for any file it
// opened. fallback names the output when cfg.Output is empty; the TUI
// passes a file so log lines never land on the screen it draws. Records
// logged with a turn context carry its session_id and prompt_id.
func New(cfg config.LoggerConfig, fallback string) (*slog.Logger, func() error, error) {
	target := cfg.Output
	if target == "" {
		target = fallback
	}
	w, closer, err := openOutput(target)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output %q: %w", target, err)
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(turnHandler{h}), closer, nil
}

// parseLevel reads a level name; anything unknown is info.
func parseLevel(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func openOutput(target string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(target) {
	case "", "stderr":
		return os.Stderr, nop, nil
	case "stdout":
		return os.Stdout, nop, nil
	case "none", "discard":
		return io.Discard, nop, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// turnHandler adds the turn identifiers found on the record's context.
type turnHandler struct{ slog.Handler }

func (h turnHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := domain.SessionIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("session_id", id))
	}
	if id := domain.PromptIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("prompt_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h turnHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return turnHandler{h.Handler.WithAttrs(attrs)}
}

func (h turnHandler) WithGroup(name string) slog.Handler {
	return turnHandler{h.Handler.WithGroup(name)}
}
