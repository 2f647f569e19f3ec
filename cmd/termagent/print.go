package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/urfave/cli/v3"

	"termagent/internal/adapter/tui/components"
	"termagent/internal/adapter/tui/uxerror"
	"termagent/internal/domain"
	"termagent/internal/infra/config"
	"termagent/internal/infra/logger"
	"termagent/internal/infra/tracer"
	"termagent/internal/usecase"
)

// printer is the observer for non-interactive runs: assistant text goes to
// out, progress notes to diag.
type printer struct {
	usecase.NopObserver

	mu      sync.Mutex
	out     io.Writer
	diag    io.Writer
	endedNL bool
}

func newPrinter(out, diag io.Writer) *printer {
	return &printer{out: out, diag: diag, endedNL: true}
}

func (p *printer) OnText(text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, text)
	p.endedNL = text[len(text)-1] == '\n'
}

func (p *printer) OnEvent(ev domain.StreamEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case domain.EventChatCompressed:
		if ev.Compression == nil {
			return
		}
		fmt.Fprintf(p.diag, "[history compressed: ~%d -> ~%d tokens]\n", ev.Compression.Before, ev.Compression.After)
	case domain.EventContextWindowWillOverflow:
		if ev.Overflow == nil {
			return
		}
		fmt.Fprintf(p.diag, "[warning: request is ~%d tokens, window is %d]\n", ev.Overflow.Estimated, ev.Overflow.Remaining)
	case domain.EventLoopDetected:
		fmt.Fprintln(p.diag, "[possible loop detected, stopping]")
	}
}

func (p *printer) OnToolCall(snap domain.ToolCallSnapshot) {
	if !snap.Status.IsTerminal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("[%s %s]", snap.Request.Name, snap.Status)
	if snap.Status == domain.StatusError {
		line = fmt.Sprintf("[%s failed: %s]", snap.Request.Name, firstLine(components.ResultText(snap)))
	}
	fmt.Fprintln(p.diag, line)
}

// finish terminates the output with a newline if the text did not.
func (p *printer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.endedNL {
		fmt.Fprintln(p.out)
		p.endedNL = true
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// runPrompt answers one prompt and exits. Calls that would need a human
// are rejected unless the approval mode or always_allow covers them.
func runPrompt(ctx context.Context, cfg *config.Config, prompt string) error {
	log, closeLog, err := logger.New(cfg.Logger, "stderr")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdown(context.WithoutCancel(ctx))

	out := newPrinter(os.Stdout, os.Stderr)
	a, err := buildApp(cfg, collaborators{
		Observer: out,
		Approval: usecase.NewConfigApprover(cfg.Tools.AlwaysAllow),
	}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.processor.Submit(ctx, prompt)
	out.finish()
	if outcome != nil && outcome.Status == usecase.OutcomeCancelled {
		return cli.Exit("cancelled", 130)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, uxerror.Humanize(err).Render())
		return cli.Exit("", 1)
	}
	if outcome.Status == usecase.OutcomeHalted {
		return cli.Exit("stopped after a suspected loop", 1)
	}
	return nil
}
