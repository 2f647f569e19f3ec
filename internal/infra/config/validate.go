package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateTools(cfg, ve)
	validateCheckpoint(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	a := cfg.Agent
	if a.MaxSessionTurns < 0 {
		ve.Add("agent.max_session_turns must be >= 0")
	}
	if a.TokenLimit <= 0 {
		ve.Add("agent.token_limit must be > 0")
	}
	if a.FlushThreshold < 0 {
		ve.Add("agent.flush_threshold must be >= 0")
	}
	if a.Compression.Enabled {
		if a.Compression.Threshold <= 0 || a.Compression.Threshold > 1 {
			ve.Add("agent.compression.threshold must be in (0, 1]")
		}
		if a.Compression.KeepRecent <= 0 {
			ve.Add("agent.compression.keep_recent must be > 0 when compression is enabled")
		}
	}
	if a.LoopDetection.Enabled {
		if a.LoopDetection.ToolCallThreshold < 2 {
			ve.Add("agent.loop_detection.tool_call_threshold must be >= 2")
		}
		if a.LoopDetection.ContentChunkSize <= 0 {
			ve.Add("agent.loop_detection.content_chunk_size must be > 0")
		}
		if a.LoopDetection.ContentRepetitions < 2 {
			ve.Add("agent.loop_detection.content_repetitions must be >= 2")
		}
	}
}

var validProviderTypes = map[string]bool{
	"ollama": true,
	"openai": true,
}

var validToolModes = map[string]bool{
	"":       true,
	"auto":   true,
	"native": true,
	"text":   true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if cfg.LLM.RequestsPerMinute < 0 {
		ve.Add("llm.requests_per_minute must be >= 0")
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: ollama, openai)", i, p.Type)
		}
		if !validToolModes[p.ToolMode] {
			ve.Add("llm.providers[%d].tool_mode %q is invalid (want: auto, native, text)", i, p.ToolMode)
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("llm.providers[%d].base_url %q is not an absolute URL", i, p.BaseURL)
			}
		}
		if p.Type == "ollama" && p.BaseURL == "" {
			ve.Add("llm.providers[%d] (%s): base_url is required for ollama", i, p.Name)
		}
		// A custom base_url usually points at a local OpenAI-compatible server
		// that needs no key.
		if p.Type == "openai" && p.APIKey == "" && p.BaseURL == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via TERMAGENT_LLM_PROVIDER_%s_API_KEY or OPENAI_API_KEY)",
				i, p.Name, envName(p.Name))
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.ConnTimeout < 0 || p.RespTimeout < 0 {
			ve.Add("llm.providers[%d] (%s): timeouts must be >= 0", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
}

var validApprovalModes = map[string]bool{
	"default":   true,
	"auto_edit": true,
	"yolo":      true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.SandboxRoot == "" {
		ve.Add("tools.sandbox_root must not be empty")
	}
	if cfg.Tools.ShellTimeout <= 0 {
		ve.Add("tools.shell_timeout must be > 0")
	}
	if cfg.Tools.MaxOutputBytes <= 0 {
		ve.Add("tools.max_output_bytes must be > 0")
	}
	if !validApprovalModes[cfg.Tools.ApprovalMode] {
		ve.Add("tools.approval_mode %q is invalid (want: default, auto_edit, yolo)", cfg.Tools.ApprovalMode)
	}
}

func validateCheckpoint(cfg *Config, ve *ValidationError) {
	if cfg.Checkpoint.Enabled && cfg.Checkpoint.Path == "" {
		ve.Add("checkpoint.path must not be empty when checkpoints are enabled")
	}
}

var validExporters = map[string]bool{
	"":       true,
	"noop":   true,
	"stdout": true,
	"file":   true,
}

func validateObservability(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout, file)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.Exporter == "file" && cfg.Tracer.Path == "" {
		ve.Add("tracer.path is required for the file exporter")
	}
}
