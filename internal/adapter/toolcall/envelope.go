package toolcall

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// envelopeSchema accepts the {name, arguments} and {tool, args} shapes, plus
// the OpenAI-style {function: {name, arguments}} wrapper some models copy.
// Inside <tool_call> tags the arguments may be omitted.
const envelopeSchema = `{
  "type": "object",
  "anyOf": [
    {"required": ["name"], "properties": {"name": {"type": "string", "minLength": 1}}},
    {"required": ["tool"], "properties": {"tool": {"type": "string", "minLength": 1}}},
    {"required": ["function"], "properties": {"function": {"type": "object", "required": ["name"]}}}
  ]
}`

// untaggedEnvelopeSchema is used for JSON found without tags. A bare
// {"name": ...} is usually data (package.json, a user record), so an
// arguments key is required next to the name.
const untaggedEnvelopeSchema = `{
  "type": "object",
  "anyOf": [
    {"required": ["name"], "properties": {"name": {"type": "string", "minLength": 1}}, "allOf": [` + argumentsPresent + `]},
    {"required": ["tool"], "properties": {"tool": {"type": "string", "minLength": 1}}, "allOf": [` + argumentsPresent + `]},
    {"required": ["function"], "properties": {"function": {"type": "object", "required": ["name"]}}}
  ]
}`

const argumentsPresent = `{"anyOf": [
  {"required": ["arguments"], "properties": {"arguments": {"type": ["object", "string"]}}},
  {"required": ["args"], "properties": {"args": {"type": ["object", "string"]}}},
  {"required": ["parameters"], "properties": {"parameters": {"type": ["object", "string"]}}},
  {"required": ["input"], "properties": {"input": {"type": ["object", "string"]}}}
]}`

var (
	compiledEnvelope         = mustCompileEnvelope(envelopeSchema)
	compiledUntaggedEnvelope = mustCompileEnvelope(untaggedEnvelopeSchema)
)

func mustCompileEnvelope(src string) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("toolcall: envelope schema: %v", err))
	}
	return schema
}

var errNotEnvelope = errors.New("not a tool call envelope")

// decodeCandidate parses body as a single envelope or an array of them,
// each checked against schema.
func decodeCandidate(body string, schema *jsonschema.Schema) ([]Call, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errNotEnvelope
	}
	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("decode candidate: %w", err)
	}
	switch v := raw.(type) {
	case map[string]any:
		c, err := callFromEnvelope(v, schema)
		if err != nil {
			return nil, err
		}
		return []Call{c}, nil
	case []any:
		var calls []Call
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if c, err := callFromEnvelope(obj, schema); err == nil {
				calls = append(calls, c)
			}
		}
		if len(calls) == 0 {
			return nil, errNotEnvelope
		}
		return calls, nil
	default:
		return nil, errNotEnvelope
	}
}

func callFromEnvelope(obj map[string]any, schema *jsonschema.Schema) (Call, error) {
	if res := schema.Validate(obj); !res.IsValid() {
		return Call{}, errNotEnvelope
	}
	if fn, ok := obj["function"].(map[string]any); ok {
		obj = fn
	}

	name, _ := obj["name"].(string)
	if name == "" {
		name, _ = obj["tool"].(string)
	}

	var rawArgs any
	for _, key := range []string{"arguments", "args", "parameters", "input"} {
		if v, ok := obj[key]; ok {
			rawArgs = v
			break
		}
	}
	args, err := coerceArgs(rawArgs)
	if err != nil {
		return Call{}, fmt.Errorf("tool %q: %w", name, err)
	}
	return Call{Name: strings.TrimSpace(name), Args: args}, nil
}

// coerceArgs accepts an object, a JSON-encoded object string, or nothing.
func coerceArgs(v any) (map[string]any, error) {
	switch a := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return a, nil
	case string:
		if strings.TrimSpace(a) == "" {
			return map[string]any{}, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(a), &m); err != nil {
			return nil, fmt.Errorf("arguments string is not a JSON object: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("arguments of type %T", v)
	}
}
