package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"termagent/internal/adapter/llm"
	"termagent/internal/infra/config"
)

type fakeProbe struct {
	healthy bool
	models  []llm.OllamaModel
	native  bool
	err     error
	model   string
}

func (f *fakeProbe) IsHealthy(context.Context) bool { return f.healthy }
func (f *fakeProbe) ListModels(context.Context) ([]llm.OllamaModel, error) {
	return f.models, f.err
}
func (f *fakeProbe) SupportsNativeTools(context.Context, string) (bool, error) {
	return f.native, f.err
}
func (f *fakeProbe) Model() string { return f.model }

func TestCheckConfigFile_MissingUsesDefaults(t *testing.T) {
	result := checkConfigFile(filepath.Join(t.TempDir(), "config.yaml"), nil)(context.Background(), nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing config")
	}
}

func TestCheckConfigFile_ValidationError(t *testing.T) {
	err := &config.ValidationError{Errors: []string{"agent.token_limit must be > 0"}}
	result := checkConfigFile("config.yaml", err)(context.Background(), nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL, got %s", result.Status)
	}
	if !strings.Contains(result.Fix, "Correct") {
		t.Errorf("unexpected fix: %q", result.Fix)
	}
}

func TestCheckConfigFile_Present(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	result := checkConfigFile(path, nil)(context.Background(), nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckProvider(t *testing.T) {
	if r := checkProvider(context.Background(), nil); r.Status != StatusSkip {
		t.Errorf("expected SKIP for nil config, got %s", r.Status)
	}

	cfg := config.Defaults()
	if r := checkProvider(context.Background(), cfg); r.Status != StatusPass {
		t.Errorf("expected PASS for defaults, got %s: %s", r.Status, r.Message)
	}

	cfg.LLM.DefaultProvider = "missing"
	if r := checkProvider(context.Background(), cfg); r.Status != StatusFail {
		t.Errorf("expected FAIL for unknown provider, got %s", r.Status)
	}

	cfg.LLM.Providers = append(cfg.LLM.Providers, config.ProviderConfig{Name: "missing", Type: "openai"})
	if r := checkProvider(context.Background(), cfg); r.Status != StatusWarn {
		t.Errorf("expected WARN for keyless openai provider, got %s", r.Status)
	}
}

func TestCheckBackend(t *testing.T) {
	cfg := config.Defaults()
	ctx := context.Background()

	if r := checkBackend(nil)(ctx, cfg); r.Status != StatusSkip {
		t.Errorf("expected SKIP without ollama, got %s", r.Status)
	}
	if r := checkBackend(&fakeProbe{})(ctx, cfg); r.Status != StatusFail {
		t.Errorf("expected FAIL when down, got %s", r.Status)
	}
	if r := checkBackend(&fakeProbe{healthy: true})(ctx, cfg); r.Status != StatusPass {
		t.Errorf("expected PASS when up, got %s", r.Status)
	}
}

func TestCheckModelPulled(t *testing.T) {
	cfg := config.Defaults()
	ctx := context.Background()

	probe := &fakeProbe{model: "llama3", models: []llm.OllamaModel{{Name: "llama3:latest"}}}
	if r := checkModelPulled(probe)(ctx, cfg); r.Status != StatusPass {
		t.Errorf("expected PASS for :latest match, got %s: %s", r.Status, r.Message)
	}

	probe.model = "qwen2.5-coder:7b"
	r := checkModelPulled(probe)(ctx, cfg)
	if r.Status != StatusFail {
		t.Errorf("expected FAIL for missing model, got %s", r.Status)
	}
	if !strings.Contains(r.Fix, "ollama pull qwen2.5-coder:7b") {
		t.Errorf("unexpected fix: %q", r.Fix)
	}

	probe.err = errors.New("connection refused")
	if r := checkModelPulled(probe)(ctx, cfg); r.Status != StatusSkip {
		t.Errorf("expected SKIP when listing fails, got %s", r.Status)
	}
}

func TestCheckNativeTools(t *testing.T) {
	cfg := config.Defaults()
	ctx := context.Background()

	if r := checkNativeTools(&fakeProbe{native: true})(ctx, cfg); r.Status != StatusPass {
		t.Errorf("expected PASS, got %s", r.Status)
	}
	if r := checkNativeTools(&fakeProbe{})(ctx, cfg); r.Status != StatusWarn {
		t.Errorf("expected WARN for text-mode model, got %s", r.Status)
	}
}

func TestCheckSandboxRoot(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tools.SandboxRoot = t.TempDir()
	if r := checkSandboxRoot(context.Background(), cfg); r.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", r.Status, r.Message)
	}

	cfg.Tools.SandboxRoot = filepath.Join(cfg.Tools.SandboxRoot, "nope")
	if r := checkSandboxRoot(context.Background(), cfg); r.Status != StatusFail {
		t.Errorf("expected FAIL for missing dir, got %s", r.Status)
	}
}

func TestCheckCheckpointDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.Checkpoint.Enabled = false
	if r := checkCheckpointDir(context.Background(), cfg); r.Status != StatusSkip {
		t.Errorf("expected SKIP when disabled, got %s", r.Status)
	}

	cfg.Checkpoint.Enabled = true
	cfg.Checkpoint.Path = filepath.Join(t.TempDir(), "sub", "checkpoints.db")
	if r := checkCheckpointDir(context.Background(), cfg); r.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", r.Status, r.Message)
	}
}

func TestRunDoctor_ConfigErrorFails(t *testing.T) {
	var out bytes.Buffer
	err := runDoctor(context.Background(), &out, "config.yaml", nil, errors.New("parse config: bad"))
	if err == nil {
		t.Fatal("expected error when config fails to load")
	}
	if !strings.Contains(out.String(), "[FAIL] Config file") {
		t.Errorf("missing FAIL line:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "[SKIP] Provider") {
		t.Errorf("dependent checks should be skipped:\n%s", out.String())
	}
}
