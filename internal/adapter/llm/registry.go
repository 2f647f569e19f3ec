package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"termagent/internal/adapter/toolcall"
	"termagent/internal/domain"
	"termagent/internal/infra/config"
)

// Registry holds named backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]domain.Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]domain.Backend)}
}

// Register adds a backend. Returns error if the name is already registered.
func (r *Registry) Register(b domain.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := b.Name()
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}
	r.backends[name] = b
	return nil
}

// Get retrieves a backend by name.
func (r *Registry) Get(name string) (domain.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return b, nil
}

// List returns all registered backend names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend creates the adapter for one provider entry.
func NewBackend(pc config.ProviderConfig, extractor *toolcall.Extractor, log *slog.Logger) (domain.Backend, error) {
	switch pc.Type {
	case "ollama", "":
		return NewOllama(pc, extractor, log), nil
	case "openai":
		return NewOpenAI(pc, log), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", pc.Type)
	}
}

// BuildRegistry creates and registers every configured backend, wrapping
// each in a circuit breaker when enabled.
func BuildRegistry(cfg config.LLMConfig, extractor *toolcall.Extractor, log *slog.Logger) (*Registry, error) {
	registry := NewRegistry()
	for _, pc := range cfg.Providers {
		backend, err := NewBackend(pc, extractor, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		if cfg.CircuitBreaker.Enabled {
			backend = NewCircuitBreakerBackend(backend, cfg.CircuitBreaker, log)
		}
		if err := registry.Register(backend); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}
	if cfg.CircuitBreaker.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cfg.CircuitBreaker.MaxFailures,
			"timeout", cfg.CircuitBreaker.Timeout,
		)
	}
	return registry, nil
}

// AsOllama returns the Ollama adapter behind b, looking through wrappers.
func AsOllama(b domain.Backend) (*Ollama, bool) {
	for {
		switch v := b.(type) {
		case *Ollama:
			return v, true
		case interface{ Unwrap() domain.Backend }:
			b = v.Unwrap()
		default:
			return nil, false
		}
	}
}
