// Package toolexec provides the uniform tool invocation contract: a
// registry of named tools, JSON-schema argument validation, a result cache
// for idempotent tools, and order-preserving parallel dispatch.
package toolexec

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ToolFunc executes a tool. Output is free-form; tools typically return a
// map or a string.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool describes one callable capability.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc

	// RequiresApproval marks tools whose calls must be confirmed by a human
	// before running; they are never dispatched in parallel.
	RequiresApproval bool
	// Parallel marks tools safe for concurrent execution within one
	// reasoning step.
	Parallel bool
	// Cacheable marks read-only/idempotent tools whose results may be
	// served from the adapter cache.
	Cacheable bool
}

// ValidateArgs validates the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	if t.SchemaJSON == "" {
		return nil
	}
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("tool %s validation failed: %s", t.Name, strings.Join(msgs, "; "))
	}
	return nil
}

// Registry maps tool names to their implementations.
type Registry map[string]Tool

// Schema is the shape handed to LLM providers for function calling.
type Schema struct {
	Name        string
	Description string
	JSONSchema  string
}

// Schemas returns provider-facing schemas for every registered tool,
// ordered by name so prompts stay byte-stable across calls.
func (r Registry) Schemas() []Schema {
	s := make([]Schema, 0, len(r))
	for _, name := range r.sortedNames() {
		t := r[name]
		s = append(s, Schema{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.SchemaJSON,
		})
	}
	return s
}

// Names returns the registered tool names, for error messages and prompts.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}

func (r Registry) sortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// CatalogText renders a one-line-per-tool catalog for planner prompts,
// ordered by name.
func (r Registry) CatalogText() string {
	var sb strings.Builder
	for _, name := range r.sortedNames() {
		t := r[name]
		sb.WriteString("- ")
		sb.WriteString(t.Name)
		sb.WriteString(": ")
		desc := t.Description
		if idx := strings.IndexByte(desc, '\n'); idx >= 0 {
			desc = desc[:idx]
		}
		sb.WriteString(desc)
		sb.WriteString("\n")
	}
	return sb.String()
}
