package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"termagent/internal/domain"
)

var _ domain.ToolRegistry = (*Registry)(nil)

type entry struct {
	tool   domain.Tool
	schema *jsonschema.Schema
}

// Registry holds named tools with their compiled parameter schemas.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		tools:  make(map[string]entry),
		logger: logger,
	}
}

// Register adds a tool. Returns error if the name is taken. A schema that
// does not compile is logged and the tool is registered without validation.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	schema, err := compileSchema(name, t.Declaration().Parameters)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
	}
	r.tools[name] = entry{tool: t, schema: schema}
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return e.tool, nil
}

// ValidateArgs checks args against the tool's schema.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.NewDomainError("Registry.ValidateArgs", domain.ErrToolNotFound, name)
	}
	if err := validateAgainst(e.schema, args); err != nil {
		return domain.NewDomainError("Registry.ValidateArgs", domain.ErrToolValidation,
			fmt.Sprintf("%s: %v", name, err))
	}
	return nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		tools = append(tools, e.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Declarations returns all tool declarations sorted by name.
func (r *Registry) Declarations() []domain.ToolDeclaration {
	tools := r.List()
	decls := make([]domain.ToolDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = t.Declaration()
	}
	return decls
}
