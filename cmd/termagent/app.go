package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"termagent/internal/adapter/checkpoint"
	"termagent/internal/adapter/llm"
	"termagent/internal/adapter/tool"
	"termagent/internal/adapter/toolcall"
	"termagent/internal/domain"
	"termagent/internal/infra/config"
	"termagent/internal/usecase"
)

// collaborators are the outer-layer pieces the engine calls back into.
type collaborators struct {
	Observer usecase.Observer
	Approval domain.ApprovalHandler
	Decider  domain.LoopDecider
}

// app is one wired session.
type app struct {
	cfg        *config.Config
	backend    domain.Backend
	generator  *usecase.ContentGenerator
	chat       *usecase.Chat
	policy     *usecase.ApprovalPolicy
	compressor *usecase.Compressor
	processor  *usecase.Processor
	closers    []func() error
}

// buildApp wires backends, tools and the engine for cfg.
func buildApp(cfg *config.Config, c collaborators, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg}

	registry, err := llm.BuildRegistry(cfg.LLM, toolcall.New(log), log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.backend, err = registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.generator = usecase.NewContentGenerator(a.backend,
		usecase.GeneratorConfig{RequestsPerMinute: cfg.LLM.RequestsPerMinute}, log)

	tools := tool.NewRegistry(log)
	sandbox, err := tool.RegisterBuiltins(tools, cfg.Tools, log)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	var checkpointer domain.Checkpointer
	if cfg.Checkpoint.Enabled {
		store, err := checkpoint.NewSQLiteStore(cfg.Checkpoint.Path, log)
		if err != nil {
			// Checkpoints are best effort.
			log.Warn("checkpoint store unavailable, continuing without checkpoints", "path", cfg.Checkpoint.Path, "error", err)
		} else {
			checkpointer = store
			a.closers = append(a.closers, store.Close)
		}
	}

	mode, err := usecase.ParseApprovalMode(cfg.Tools.ApprovalMode)
	if err != nil {
		return nil, err
	}
	a.policy = usecase.NewApprovalPolicy(mode, cfg.Tools.AlwaysAllow)

	a.chat = usecase.NewChat(usecase.ChatOptions{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Tools:        tools.Declarations,
	})

	scheduler := usecase.NewScheduler(usecase.SchedulerDeps{
		Tools:        tools,
		Policy:       a.policy,
		Approval:     c.Approval,
		Checkpointer: checkpointer,
		Logger:       log,
	})

	a.compressor = usecase.NewCompressor(a.generator, cfg.Agent.Compression, cfg.Agent.TokenLimit, log)
	var autoCompress *usecase.Compressor
	if cfg.Agent.Compression.Enabled {
		autoCompress = a.compressor
	}

	a.processor = usecase.NewProcessor(usecase.ProcessorDeps{
		Generator:      a.generator,
		Chat:           a.chat,
		Scheduler:      scheduler,
		Detector:       usecase.NewLoopDetector(cfg.Agent.LoopDetection, log),
		Decider:        c.Decider,
		Compressor:     autoCompress,
		Observer:       c.Observer,
		Logger:         log,
		MaxRounds:      cfg.Agent.MaxSessionTurns,
		TokenLimit:     cfg.Agent.TokenLimit,
		FlushThreshold: cfg.Agent.FlushThreshold,
	})

	log.Info("termagent ready",
		"provider", a.backend.Name(),
		"model", a.backend.Model(),
		"tools", len(tools.List()),
		"sandbox", sandbox.Root(),
		"approval_mode", mode,
		"checkpoints", checkpointer != nil,
		"session_id", a.chat.ID(),
	)
	return a, nil
}

// warmup preloads the model on Ollama backends. Failures only warn; the
// first request reports them properly.
func (a *app) warmup(ctx context.Context, log *slog.Logger) {
	if o, ok := llm.AsOllama(a.backend); ok {
		if err := o.Warmup(ctx); err != nil && ctx.Err() == nil {
			log.Warn("model warmup failed", "error", err)
		}
	}
}

func (a *app) compress(ctx context.Context) (*domain.CompressionInfo, error) {
	return a.compressor.ForceCompress(ctx, a.chat)
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
