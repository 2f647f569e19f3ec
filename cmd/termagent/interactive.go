package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"termagent/internal/adapter/tui/chat"
	"termagent/internal/infra/config"
	"termagent/internal/infra/logger"
	"termagent/internal/infra/tracer"
)

// runInteractive opens the chat TUI.
func runInteractive(ctx context.Context, cfg *config.Config) error {
	// Anything written to the terminal would corrupt the screen.
	switch strings.ToLower(cfg.Logger.Output) {
	case "stdout", "stderr":
		cfg.Logger.Output = ""
	}
	if cfg.Tracer.Exporter == "stdout" {
		cfg.Tracer.Exporter = "file"
		cfg.Tracer.Path = filepath.Join(config.DataDir(), "traces.jsonl")
	}

	log, closeLog, err := logger.New(cfg.Logger, filepath.Join(config.DataDir(), "termagent.log"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdown(context.WithoutCancel(ctx))

	bridge := chat.NewBridge(log)
	a, err := buildApp(cfg, collaborators{Observer: bridge, Approval: bridge, Decider: bridge}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.warmup(ctx, log)

	return bridge.Run(ctx, chat.ChatModelDeps{
		Engine:      a.processor,
		Policy:      a.policy,
		OnClear:     a.chat.Clear,
		OnCompress:  a.compress,
		Logger:      log,
		Context:     ctx,
		BackendName: a.backend.Name(),
		ModelName:   a.backend.Model(),
		TokenLimit:  cfg.Agent.TokenLimit,
	})
}
