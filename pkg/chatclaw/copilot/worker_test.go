package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
)

// scriptedCompleter returns canned responses in order. When the script is
// exhausted it keeps returning the last response.
type scriptedCompleter struct {
	mu       sync.Mutex
	script   []*CompleteResponse
	err      error
	requests []*CompleteRequest
}

func (s *scriptedCompleter) Complete(_ context.Context, req *CompleteRequest) (*CompleteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.script) == 0 {
		return &CompleteResponse{Blocks: []ContentBlock{{Type: BlockText, Text: "done"}}}, nil
	}
	resp := s.script[0]
	if len(s.script) > 1 {
		s.script = s.script[1:]
	}
	return resp, nil
}

func (s *scriptedCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func textResponse(text string) *CompleteResponse {
	return &CompleteResponse{Blocks: []ContentBlock{{Type: BlockText, Text: text}}}
}

func toolUseResponse(id, name string, input map[string]any) *CompleteResponse {
	raw, _ := json.Marshal(input)
	return &CompleteResponse{Blocks: []ContentBlock{
		{Type: BlockToolUse, ID: id, Name: name, Input: raw},
	}}
}

// testLogger writes to stdout so failures show context.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func newTestRuntime(t *testing.T, completer Completer, maxIterations int) (*WorkerRuntime, *Roster, *Registry) {
	t.Helper()
	logger := testLogger()
	cfg := DefaultConfig()
	roster := NewRoster(nil, logger)
	registry := NewRegistry()
	guard := NewGuard(DefaultGuardConfig(), logger)
	composer := NewPromptComposer(cfg)
	rt := NewWorkerRuntime(completer, roster, registry, guard, composer, maxIterations, logger)
	return rt, roster, registry
}

func TestWorkerExecuteTerminal(t *testing.T) {
	completer := &scriptedCompleter{script: []*CompleteResponse{
		textResponse("Paris is the capital of France."),
	}}
	rt, roster, _ := newTestRuntime(t, completer, 8)

	result := rt.Execute(context.Background(), "geo", "capital of France?", PermUser, "chat1")

	if !result.OK {
		t.Fatalf("expected OK, got error %q", result.ErrorText)
	}
	if result.ResponseText != "Paris is the capital of France." {
		t.Errorf("ResponseText = %q", result.ResponseText)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}

	// Request and response were recorded on the worker.
	w := roster.Get("geo")
	if w == nil {
		t.Fatal("worker not created")
	}
	entries := w.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type != EntryRequest || entries[1].Type != EntryResponse {
		t.Errorf("unexpected entry types: %s, %s", entries[0].Type, entries[1].Type)
	}
}

func TestWorkerExecuteWithTool(t *testing.T) {
	completer := &scriptedCompleter{script: []*CompleteResponse{
		toolUseResponse("call-1", "lookup", map[string]any{"query": "weather"}),
		textResponse("It is sunny."),
	}}
	rt, roster, registry := newTestRuntime(t, completer, 8)

	registry.Register(&Tool{
		Name:        "lookup",
		Description: "Look something up.",
		Permission:  PermUser,
		Schema:      InputSchema{Properties: map[string]any{"query": map[string]any{"type": "string"}}},
		Execute: func(_ context.Context, input map[string]any, _ ToolContext) (string, error) {
			return fmt.Sprintf("result for %v", input["query"]), nil
		},
	})

	result := rt.Execute(context.Background(), "research", "check the weather", PermUser, "chat1")

	if !result.OK {
		t.Fatalf("expected OK, got %q", result.ErrorText)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	if len(result.ToolsUsed) != 1 || result.ToolsUsed[0] != "lookup" {
		t.Errorf("ToolsUsed = %v", result.ToolsUsed)
	}

	// The action entry carries tool name, args and result.
	w := roster.Get("research")
	var action string
	for _, e := range w.Entries() {
		if e.Type == EntryAction {
			action = e.Content
		}
	}
	for _, want := range []string{"Tool: lookup", "weather", "Result: result for weather"} {
		if !strings.Contains(action, want) {
			t.Errorf("action entry %q missing %q", action, want)
		}
	}
}

func TestWorkerExecuteUnknownTool(t *testing.T) {
	completer := &scriptedCompleter{script: []*CompleteResponse{
		toolUseResponse("call-1", "nope", nil),
		textResponse("recovered"),
	}}
	rt, _, _ := newTestRuntime(t, completer, 8)

	result := rt.Execute(context.Background(), "w", "do it", PermUser, "chat1")

	// The error flows back as a tool result; the loop continues.
	if !result.OK {
		t.Fatalf("expected OK after recovery, got %q", result.ErrorText)
	}
	if len(result.ToolsUsed) != 0 {
		t.Errorf("errored tool should not be counted, got %v", result.ToolsUsed)
	}
}

func TestWorkerExecutePermissionDenied(t *testing.T) {
	completer := &scriptedCompleter{script: []*CompleteResponse{
		toolUseResponse("call-1", "wipe", nil),
		textResponse("could not do that"),
	}}
	rt, _, registry := newTestRuntime(t, completer, 8)

	registry.Register(&Tool{
		Name:       "wipe",
		Permission: PermAdmin,
		Execute: func(_ context.Context, _ map[string]any, _ ToolContext) (string, error) {
			t.Fatal("tool must not execute")
			return "", nil
		},
	})

	result := rt.Execute(context.Background(), "w", "wipe everything", PermUser, "chat1")
	if !result.OK {
		t.Fatalf("expected OK, got %q", result.ErrorText)
	}
	if len(result.ToolsUsed) != 0 {
		t.Errorf("denied tool should not be counted, got %v", result.ToolsUsed)
	}
}

func TestWorkerExecuteIterationCap(t *testing.T) {
	// The model keeps asking for the same tool forever.
	completer := &scriptedCompleter{script: []*CompleteResponse{
		toolUseResponse("call-1", "noop", nil),
	}}
	rt, _, registry := newTestRuntime(t, completer, 3)

	registry.Register(&Tool{
		Name:       "noop",
		Permission: PermUser,
		Execute: func(_ context.Context, _ map[string]any, _ ToolContext) (string, error) {
			return "ok", nil
		},
	})

	result := rt.Execute(context.Background(), "w", "loop forever", PermUser, "chat1")

	if result.OK {
		t.Fatal("expected failure at the iteration cap")
	}
	if result.ErrorText != "max iterations reached" {
		t.Errorf("ErrorText = %q", result.ErrorText)
	}
	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", result.Iterations)
	}
}

func TestWorkerExecuteCompletionError(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("api down")}
	rt, _, _ := newTestRuntime(t, completer, 8)

	result := rt.Execute(context.Background(), "w", "anything", PermUser, "chat1")
	if result.OK {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.ErrorText, "api down") {
		t.Errorf("ErrorText = %q", result.ErrorText)
	}
}

func TestWorkerExecuteInvalidName(t *testing.T) {
	completer := &scriptedCompleter{}
	rt, _, _ := newTestRuntime(t, completer, 8)

	result := rt.Execute(context.Background(), ";drop", "anything", PermUser, "chat1")
	if result.OK {
		t.Fatal("expected failure for invalid worker name")
	}
	if completer.callCount() != 0 {
		t.Error("no completion should happen for an invalid name")
	}
}

