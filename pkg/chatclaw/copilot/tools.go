// Package copilot – tools.go defines worker tools as plain capability
// records and the registry workers draw from. A tool is data plus an execute
// function; there is no tool hierarchy.
package copilot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ToolContext carries per-execution information into a tool.
type ToolContext struct {
	WorkerName string
	ChatID     string
	Level      Permission
	Worker     *Worker
}

// Tool is one capability a worker can invoke.
type Tool struct {
	Name        string
	Description string
	Permission  Permission
	Schema      InputSchema
	Execute     func(ctx context.Context, input map[string]any, tc ToolContext) (string, error)
}

// Definition converts the tool to the form offered to the model.
func (t *Tool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.Name, Description: t.Description, Schema: t.Schema}
}

// Registry holds the tools available to workers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns tool definitions visible at the given level, sorted by
// name for stable prompt ordering.
func (r *Registry) Definitions(level Permission) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		if level.allows(t.Permission) {
			defs = append(defs, t.Definition())
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// stringArg extracts a required string field from a tool input.
func stringArg(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	return s, nil
}

// optionalStringArg extracts an optional string field from a tool input.
func optionalStringArg(input map[string]any, key string) string {
	if v, ok := input[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RegisterBuiltinTools adds the tools every worker gets.
func RegisterBuiltinTools(reg *Registry, timezone string) {
	reg.Register(&Tool{
		Name:        "current_time",
		Description: "Get the current date and time.",
		Permission:  PermUser,
		Schema:      InputSchema{Properties: map[string]any{}},
		Execute: func(ctx context.Context, input map[string]any, tc ToolContext) (string, error) {
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				loc = time.UTC
			}
			now := time.Now().In(loc)
			return fmt.Sprintf("%s (%s)", now.Format("2006-01-02 15:04:05 MST"), now.Format("Monday")), nil
		},
	})

	reg.Register(&Tool{
		Name:        "worker_memory",
		Description: "Look back through your own recent activity log. Optionally filter by a substring.",
		Permission:  PermUser,
		Schema: InputSchema{
			Properties: map[string]any{
				"filter": map[string]any{
					"type":        "string",
					"description": "Only return entries containing this text.",
				},
			},
		},
		Execute: func(ctx context.Context, input map[string]any, tc ToolContext) (string, error) {
			if tc.Worker == nil {
				return "no activity recorded yet", nil
			}
			filter := strings.ToLower(optionalStringArg(input, "filter"))
			entries := tc.Worker.Entries()
			var matched []WorkerEntry
			for _, e := range entries {
				if filter == "" || strings.Contains(strings.ToLower(e.Content), filter) {
					matched = append(matched, e)
				}
			}
			if len(matched) == 0 {
				return "no matching entries", nil
			}
			return RenderWorkerHistory(matched), nil
		},
	})
}
