package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OLLAMA_HOST", "OPENAI_API_KEY", "TERMAGENT_LLM_DEFAULT_PROVIDER", "TERMAGENT_LOGGER_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.LLM.DefaultProvider != "ollama" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "ollama")
	}
	p, ok := cfg.Provider("ollama")
	if !ok || p.BaseURL != DefaultOllamaURL || p.ToolMode != "auto" {
		t.Errorf("default provider = %+v", p)
	}
	if cfg.Agent.LoopDetection.ToolCallThreshold != 5 || cfg.Agent.LoopDetection.ContentRepetitions != 10 {
		t.Errorf("loop detection defaults = %+v", cfg.Agent.LoopDetection)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxSessionTurns != 50 {
		t.Errorf("expected defaults, got MaxSessionTurns=%d", cfg.Agent.MaxSessionTurns)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
agent:
  max_session_turns: 8
llm:
  default_provider: "local"
  providers:
    - name: "local"
      type: "openai"
      base_url: "http://127.0.0.1:8080/v1"
      model: "qwen"
      conn_timeout: 3s
tools:
  approval_mode: auto_edit
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxSessionTurns != 8 {
		t.Errorf("MaxSessionTurns = %d, want 8", cfg.Agent.MaxSessionTurns)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].ConnTimeout != 3*time.Second {
		t.Errorf("Providers mismatch: %+v", cfg.LLM.Providers)
	}
	if cfg.Tools.ApprovalMode != "auto_edit" {
		t.Errorf("ApprovalMode = %q", cfg.Tools.ApprovalMode)
	}
	// untouched sections keep defaults
	if cfg.Tools.ShellTimeout != 2*time.Minute {
		t.Errorf("ShellTimeout = %v", cfg.Tools.ShellTimeout)
	}
}

func TestLoadInvalidReturnsValidationError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
tools:
  approval_mode: sometimes
llm:
  default_provider: nope
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Errors) != 2 {
		t.Errorf("errors = %v, want 2", ve.Errors)
	}
}

func TestLoadRejectsWorldWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected permission error")
	}
}

func TestLoadIncludes(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "conf.d", "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(rel, body string) {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write("config.yaml", "includes: [\"conf.d/**/*.yaml\"]\nagent:\n  token_limit: 9000\n")
	write("conf.d/nested/agent.yaml", "agent:\n  token_limit: 1000\n  max_session_turns: 3\n")

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.TokenLimit != 9000 {
		t.Errorf("main file must win, TokenLimit = %d", cfg.Agent.TokenLimit)
	}
	if cfg.Agent.MaxSessionTurns != 3 {
		t.Errorf("include not applied, MaxSessionTurns = %d", cfg.Agent.MaxSessionTurns)
	}
}

func TestIncludeEscapingDirRejected(t *testing.T) {
	if _, err := expandInclude("../outside.yaml", t.TempDir()); err == nil {
		t.Error("expected escape error")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TERMAGENT_LOGGER_LEVEL", "debug")
	t.Setenv("TERMAGENT_TOOLS_APPROVAL_MODE", "yolo")
	t.Setenv("TERMAGENT_LLM_PROVIDER_OLLAMA_MODEL", "llama3.1")
	t.Setenv("OLLAMA_HOST", "gpu-box")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Tools.ApprovalMode != "yolo" {
		t.Errorf("ApprovalMode = %q", cfg.Tools.ApprovalMode)
	}
	p, _ := cfg.Provider("ollama")
	if p.Model != "llama3.1" {
		t.Errorf("Model = %q", p.Model)
	}
	if p.BaseURL != "http://gpu-box:11434" {
		t.Errorf("BaseURL = %q", p.BaseURL)
	}
}

func TestNormalizeOllamaHost(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", DefaultOllamaURL},
		{"0.0.0.0", "http://0.0.0.0:11434"},
		{"myhost:9999", "http://myhost:9999"},
		{"https://gpu.local", "https://gpu.local:11434"},
		{"http://127.0.0.1:11434/", "http://127.0.0.1:11434"},
	}
	for _, tt := range tests {
		if got := NormalizeOllamaHost(tt.in); got != tt.want {
			t.Errorf("NormalizeOllamaHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateOpenAIKey(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = append(cfg.LLM.Providers, ProviderConfig{Name: "cloud", Type: "openai", Model: "gpt-4o-mini"})
	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 1 {
		t.Fatalf("expected one api_key error, got %v", err)
	}

	cfg.LLM.Providers[1].BaseURL = "http://localhost:8080/v1"
	if err := Validate(cfg); err != nil {
		t.Errorf("local openai-compatible server needs no key: %v", err)
	}
}
