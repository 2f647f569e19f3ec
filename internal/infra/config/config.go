package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Includes   []string         `yaml:"includes,omitempty"`
	Agent      AgentConfig      `yaml:"agent"`
	LLM        LLMConfig        `yaml:"llm"`
	Tools      ToolsConfig      `yaml:"tools"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// AgentConfig holds turn engine settings.
type AgentConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	// MaxSessionTurns bounds model round-trips per user query. 0 disables the bound.
	MaxSessionTurns int                 `yaml:"max_session_turns"`
	TokenLimit      int                 `yaml:"token_limit"`
	FlushThreshold  int                 `yaml:"flush_threshold"`
	Compression     CompressionConfig   `yaml:"compression"`
	LoopDetection   LoopDetectionConfig `yaml:"loop_detection"`
}

// CompressionConfig controls history summarisation.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Threshold is the fraction of TokenLimit above which history is compressed.
	Threshold  float64 `yaml:"threshold"`
	KeepRecent int     `yaml:"keep_recent"`
}

// LoopDetectionConfig controls the repetition heuristics.
type LoopDetectionConfig struct {
	Enabled            bool `yaml:"enabled"`
	ToolCallThreshold  int  `yaml:"tool_call_threshold"`
	ContentChunkSize   int  `yaml:"content_chunk_size"`
	ContentRepetitions int  `yaml:"content_repetitions"`
}

// LLMConfig holds backend settings.
type LLMConfig struct {
	DefaultProvider   string               `yaml:"default_provider"`
	Providers         []ProviderConfig     `yaml:"providers"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
	RequestsPerMinute int                  `yaml:"requests_per_minute"`
}

// CircuitBreakerConfig holds circuit breaker settings for backends.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for backends.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single backend.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// ToolMode is auto, native or text. Only the ollama type honours it.
	ToolMode    string        `yaml:"tool_mode,omitempty"`
	Temperature *float64      `yaml:"temperature,omitempty"`
	KeepAlive   string        `yaml:"keep_alive,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// ToolsConfig holds built-in tool and approval settings.
type ToolsConfig struct {
	SandboxRoot    string        `yaml:"sandbox_root"`
	ShellTimeout   time.Duration `yaml:"shell_timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	ApprovalMode   string        `yaml:"approval_mode"`
	AlwaysAllow    []string      `yaml:"always_allow"`
}

// CheckpointConfig controls pre-edit snapshots.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr, none or a file path. Empty lets the binary pick.
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Path     string `yaml:"path,omitempty"`
}

// DefaultOllamaURL is where a local Ollama listens out of the box.
const DefaultOllamaURL = "http://localhost:11434"

// DataDir returns $HOME/.termagent, or ./.termagent when $HOME is unknown.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termagent"
	}
	return filepath.Join(home, ".termagent")
}

// DefaultPath is the config file read when --config is not given.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Defaults returns a Config that talks to a local Ollama.
func Defaults() *Config {
	dataDir := DataDir()
	return &Config{
		Agent: AgentConfig{
			SystemPrompt:    "You are termagent, a coding assistant working in the user's terminal. Use the available tools to inspect and change files. Be concise.",
			MaxSessionTurns: 50,
			TokenLimit:      32768,
			FlushThreshold:  2048,
			Compression: CompressionConfig{
				Enabled:    true,
				Threshold:  0.7,
				KeepRecent: 6,
			},
			LoopDetection: LoopDetectionConfig{
				Enabled:            true,
				ToolCallThreshold:  5,
				ContentChunkSize:   50,
				ContentRepetitions: 10,
			},
		},
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			Providers: []ProviderConfig{{
				Name:        "ollama",
				Type:        "ollama",
				BaseURL:     DefaultOllamaURL,
				Model:       "qwen2.5-coder:7b",
				ToolMode:    "auto",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 5 * time.Minute,
			}},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Tools: ToolsConfig{
			SandboxRoot:    ".",
			ShellTimeout:   2 * time.Minute,
			MaxOutputBytes: 64 * 1024,
			ApprovalMode:   "default",
		},
		Checkpoint: CheckpointConfig{
			Enabled: false,
			Path:    filepath.Join(dataDir, "checkpoints.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// Providers listed in the file replace the default provider list.
	cfg.LLM.Providers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.LLM.Providers) == 0 {
		cfg.LLM.Providers = Defaults().LLM.Providers
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// The main file wins over anything it includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps TERMAGENT_* env vars (and OLLAMA_HOST) to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TERMAGENT_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("TERMAGENT_LLM_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("TERMAGENT_AGENT_MAX_SESSION_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxSessionTurns = n
		}
	}
	if v := os.Getenv("TERMAGENT_AGENT_TOKEN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.TokenLimit = n
		}
	}
	if v := os.Getenv("TERMAGENT_LOOP_DETECTION_ENABLED"); v != "" {
		cfg.Agent.LoopDetection.Enabled = v == "true"
	}
	if v := os.Getenv("TERMAGENT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("TERMAGENT_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("TERMAGENT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("TERMAGENT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("TERMAGENT_TOOLS_SANDBOX_ROOT"); v != "" {
		cfg.Tools.SandboxRoot = v
	}
	if v := os.Getenv("TERMAGENT_TOOLS_APPROVAL_MODE"); v != "" {
		cfg.Tools.ApprovalMode = v
	}
	if v := os.Getenv("TERMAGENT_TOOLS_SHELL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tools.ShellTimeout = d
		}
	}
	if v := os.Getenv("TERMAGENT_CHECKPOINT_ENABLED"); v != "" {
		cfg.Checkpoint.Enabled = v == "true"
	}
	if v := os.Getenv("TERMAGENT_CHECKPOINT_PATH"); v != "" {
		cfg.Checkpoint.Path = v
	}

	ollamaHost := os.Getenv("OLLAMA_HOST")
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		prefix := "TERMAGENT_LLM_PROVIDER_" + envName(p.Name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			p.BaseURL = v
		} else if p.Type == "ollama" && ollamaHost != "" {
			p.BaseURL = NormalizeOllamaHost(ollamaHost)
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			p.Model = v
		}
		if v := os.Getenv(prefix + "TOOL_MODE"); v != "" {
			p.ToolMode = v
		}
		if p.Type == "openai" && p.APIKey == "" {
			p.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// NormalizeOllamaHost turns OLLAMA_HOST values such as "0.0.0.0",
// "myhost:9999" or "https://gpu.local" into a base URL.
func NormalizeOllamaHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return DefaultOllamaURL
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return DefaultOllamaURL
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "11434")
	}
	return strings.TrimRight(u.String(), "/")
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// validatePermissions checks the config file is not writable by others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
