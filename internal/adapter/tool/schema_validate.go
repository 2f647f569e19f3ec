package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor generates a tool parameter schema from the params struct P.
// Fields without omitempty are required; descriptions come from
// `jsonschema:"description=..."` tags. Unknown properties are allowed so
// that loosely formatted calls fail on what matters.
func SchemaFor[P any]() json.RawMessage {
	r := &invopop.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(new(P))
	s.Version = ""
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tool schema for %T: %v", *new(P), err))
	}
	return data
}

// compileSchema compiles a tool's parameter schema. A nil schema means the
// tool accepts anything.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", name, err)
	}
	return compiled, nil
}

// validateAgainst checks args against schema. Args are round-tripped through
// JSON so Go-typed values validate like decoded ones.
func validateAgainst(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not serialisable: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
