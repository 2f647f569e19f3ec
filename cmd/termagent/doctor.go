package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"termagent/internal/adapter/llm"
	"termagent/internal/adapter/toolcall"
	"termagent/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
	StatusSkip CheckStatus = "SKIP"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

// ollamaProbe is the part of the Ollama adapter the doctor talks to.
type ollamaProbe interface {
	IsHealthy(ctx context.Context) bool
	ListModels(ctx context.Context) ([]llm.OllamaModel, error)
	SupportsNativeTools(ctx context.Context, model string) (bool, error)
	Model() string
}

func newDoctorCommand() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "check the configuration, backend and tool prerequisites",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := configPath(cmd)
			cfg, cfgErr := config.Load(path)
			if cfgErr == nil {
				cfgErr = applyOverrides(cfg, overridesFrom(cmd))
			}
			return runDoctor(ctx, os.Stdout, path, cfg, cfgErr)
		},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(ctx context.Context, out io.Writer, path string, cfg *config.Config, cfgErr error) error {
	if cfgErr != nil {
		cfg = nil
	}
	probe := ollamaFor(cfg)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(path, cfgErr)},
		{Name: "Provider", Fn: checkProvider},
		{Name: "Backend reachable", Fn: checkBackend(probe)},
		{Name: "Model pulled", Fn: checkModelPulled(probe)},
		{Name: "Native tool calling", Fn: checkNativeTools(probe)},
		{Name: "Sandbox root", Fn: checkSandboxRoot},
		{Name: "Shell", Fn: checkShell},
		{Name: "Checkpoint store", Fn: checkCheckpointDir},
	}

	fmt.Fprintln(out, "termagent doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	counts := map[CheckStatus]int{}
	for _, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		result := check.Fn(cctx, cfg)
		cancel()
		result.Name = check.Name
		counts[result.Status]++

		fmt.Fprintf(out, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed, %d skipped\n",
		counts[StatusPass], counts[StatusWarn], counts[StatusFail], counts[StatusSkip])

	if n := counts[StatusFail]; n > 0 {
		return cli.Exit(fmt.Sprintf("%d check(s) failed", n), 1)
	}
	return nil
}

// ollamaFor returns a probe for the default provider when it is Ollama.
func ollamaFor(cfg *config.Config) ollamaProbe {
	if cfg == nil {
		return nil
	}
	pc, ok := cfg.Provider(cfg.LLM.DefaultProvider)
	if !ok {
		return nil
	}
	log := slog.New(slog.DiscardHandler)
	backend, err := llm.NewBackend(pc, toolcall.New(log), log)
	if err != nil {
		return nil
	}
	o, ok := llm.AsOllama(backend)
	if !ok {
		return nil
	}
	return o
}

var notLoaded = CheckResult{Status: StatusSkip, Message: "config not loaded"}

func checkConfigFile(path string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			var ve *config.ValidationError
			fix := "Check " + path + " syntax"
			if errors.As(cfgErr, &ve) {
				fix = "Correct the listed settings in " + path
			}
			return CheckResult{Status: StatusFail, Message: cfgErr.Error(), Fix: fix}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s, using built-in defaults", path),
				Fix:     "Create " + path + " to pick a provider and model",
			}
		}
		return CheckResult{Status: StatusPass, Message: "loaded " + path}
	}
}

func checkProvider(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	pc, ok := cfg.Provider(cfg.LLM.DefaultProvider)
	if !ok {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q is not configured", cfg.LLM.DefaultProvider),
			Fix:     "Add it under llm.providers or pass --provider",
		}
	}
	if pc.Type != "ollama" && pc.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s (%s) has no API key", pc.Name, pc.Type),
			Fix:     "Set llm.providers[].api_key if the server requires one",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (%s) model %s", pc.Name, pc.Type, pc.Model)}
}

func checkBackend(probe ollamaProbe) func(context.Context, *config.Config) CheckResult {
	return func(ctx context.Context, cfg *config.Config) CheckResult {
		if cfg == nil {
			return notLoaded
		}
		if probe == nil {
			return CheckResult{Status: StatusSkip, Message: "only checked for ollama providers"}
		}
		if !probe.IsHealthy(ctx) {
			return CheckResult{Status: StatusFail, Message: "ollama is not responding", Fix: "Start it with 'ollama serve'"}
		}
		return CheckResult{Status: StatusPass, Message: "ollama is responding"}
	}
}

func checkModelPulled(probe ollamaProbe) func(context.Context, *config.Config) CheckResult {
	return func(ctx context.Context, cfg *config.Config) CheckResult {
		if cfg == nil {
			return notLoaded
		}
		if probe == nil {
			return CheckResult{Status: StatusSkip, Message: "only checked for ollama providers"}
		}
		models, err := probe.ListModels(ctx)
		if err != nil {
			return CheckResult{Status: StatusSkip, Message: "cannot list models: " + err.Error()}
		}
		want := probe.Model()
		for _, m := range models {
			if m.Name == want || m.Name == want+":latest" {
				return CheckResult{Status: StatusPass, Message: want + " is available"}
			}
		}
		return CheckResult{Status: StatusFail, Message: want + " is not pulled", Fix: "Run 'ollama pull " + want + "'"}
	}
}

func checkNativeTools(probe ollamaProbe) func(context.Context, *config.Config) CheckResult {
	return func(ctx context.Context, cfg *config.Config) CheckResult {
		if cfg == nil {
			return notLoaded
		}
		if probe == nil {
			return CheckResult{Status: StatusSkip, Message: "only checked for ollama providers"}
		}
		ok, err := probe.SupportsNativeTools(ctx, probe.Model())
		if err != nil {
			return CheckResult{Status: StatusSkip, Message: "cannot query model: " + err.Error()}
		}
		if !ok {
			return CheckResult{
				Status:  StatusWarn,
				Message: "model has no native tool support, tool calls will be parsed from text",
				Fix:     "Pick a model with the 'tools' capability for more reliable tool use",
			}
		}
		return CheckResult{Status: StatusPass, Message: "model supports native tool calls"}
	}
}

func checkSandboxRoot(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	root := cfg.Tools.SandboxRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return CheckResult{Status: StatusFail, Message: "cannot resolve working directory: " + err.Error()}
		}
		root = wd
	}
	info, err := os.Stat(root)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Point tools.sandbox_root at an existing directory"}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: root + " is not a directory"}
	}
	return CheckResult{Status: StatusPass, Message: root}
}

func checkShell(context.Context, *config.Config) CheckResult {
	path, err := exec.LookPath("bash")
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "bash not found on PATH, run_shell_command will fail",
			Fix:     "Install bash",
		}
	}
	return CheckResult{Status: StatusPass, Message: path}
}

func checkCheckpointDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if !cfg.Checkpoint.Enabled {
		return CheckResult{Status: StatusSkip, Message: "checkpoints disabled"}
	}
	dir := filepath.Dir(cfg.Checkpoint.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{Status: StatusWarn, Message: err.Error(), Fix: "Make " + dir + " writable or disable checkpoints"}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: dir + " is not writable", Fix: "Fix permissions or disable checkpoints"}
	}
	f.Close()
	os.Remove(f.Name())
	return CheckResult{Status: StatusPass, Message: cfg.Checkpoint.Path}
}
