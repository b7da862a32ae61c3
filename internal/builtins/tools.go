// ABOUTME: Tool definitions for the human-in-the-loop tools: ask_human, human_search, human_decision.
// ABOUTME: Each definition carries a compiled JSON Schema and a decoder into its broker payload.

package builtins

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/2389/human-gateway/internal/broker"
)

// ErrToolCollision is returned when two definitions share a name.
var ErrToolCollision = errors.New("tool name collision")

// Tool describes one agent-callable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Kind        broker.Kind

	decode func(json.RawMessage) (broker.Payload, error)
	schema *jsonschema.Schema
}

// Registry holds the tools an AgentGateway exposes.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry compiles each definition's schema and indexes it by name.
func NewRegistry(defs ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(defs))}
	for i := range defs {
		def := defs[i]
		if _, exists := r.tools[def.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrToolCollision, def.Name)
		}
		schema, err := compileSchema(def.Name, def.InputSchema)
		if err != nil {
			return nil, err
		}
		def.schema = schema
		r.tools[def.Name] = &def
	}
	return r, nil
}

// HumanTools returns the three human tools.
func HumanTools() []Tool {
	return []Tool{
		{
			Name:        "ask_human",
			Description: "Ask the human operator a question and wait for their response. Use this when you need human input, decision-making, or information that only a human would know.",
			Kind:        broker.KindQuestion,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"question": {
						"type": "string",
						"description": "The question or request for the human operator"
					},
					"context": {
						"type": "string",
						"description": "Additional context to help the human understand what you need"
					}
				},
				"required": ["question"]
			}`),
			decode: decodeAs[broker.QuestionPayload],
		},
		{
			Name:        "human_search",
			Description: "Ask the human to search for information. The human will look up the information and provide their findings.",
			Kind:        broker.KindSearch,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {
						"type": "string",
						"description": "What the human should search for"
					},
					"sources": {
						"type": "string",
						"description": "Suggested sources or where to look (optional)"
					}
				},
				"required": ["query"]
			}`),
			decode: decodeAs[broker.SearchPayload],
		},
		{
			Name:        "human_decision",
			Description: "Ask the human to make a decision between options. Useful when you need human judgment or preference.",
			Kind:        broker.KindDecision,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"decision_needed": {
						"type": "string",
						"description": "What decision needs to be made"
					},
					"options": {
						"description": "The available options (can be a list or description)",
						"oneOf": [
							{"type": "string"},
							{"type": "array", "items": {"type": "string"}}
						]
					},
					"recommendation": {
						"type": "string",
						"description": "Your recommendation (optional)"
					}
				},
				"required": ["decision_needed", "options"]
			}`),
			decode: decodeAs[broker.DecisionPayload],
		},
	}
}

// decodeAs unmarshals tool arguments into a concrete payload type.
func decodeAs[P broker.Payload](args json.RawMessage) (broker.Payload, error) {
	var p P
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("tool %s: unmarshal schema: %w", name, err)
	}
	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool %s: add schema resource: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}
	return schema, nil
}

// Get returns the tool with the given name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse validates raw arguments against the tool's schema and payload rules.
// Failures are reported as *InvalidRequestError.
func (t *Tool) Parse(args json.RawMessage) (broker.Payload, error) {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(args)))
	if err != nil {
		return nil, &InvalidRequestError{Tool: t.Name, Reason: fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}
	if t.schema != nil {
		if err := t.schema.Validate(doc); err != nil {
			return nil, schemaError(t.Name, err)
		}
	}

	payload, err := t.decode(args)
	if err != nil {
		return nil, &InvalidRequestError{Tool: t.Name, Reason: err.Error()}
	}
	if err := payload.Validate(); err != nil {
		field := ""
		if errors.Is(err, broker.ErrMissingField) {
			field = strings.TrimSpace(strings.TrimPrefix(err.Error(), broker.ErrMissingField.Error()+":"))
		}
		return nil, &InvalidRequestError{Tool: t.Name, Field: field, Reason: err.Error()}
	}
	return payload, nil
}

// schemaError converts a validation failure into an InvalidRequestError,
// naming the missing property when the failure is a "required" violation.
func schemaError(tool string, err error) error {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		for _, leaf := range leaves(ve) {
			if missing, ok := leaf.ErrorKind.(*kind.Required); ok && len(missing.Missing) > 0 {
				return &InvalidRequestError{Tool: tool, Field: missing.Missing[0], Reason: "missing required field: " + missing.Missing[0]}
			}
		}
	}
	return &InvalidRequestError{Tool: tool, Reason: err.Error()}
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}
