// Package copilot – worker.go runs one delegated task to completion inside
// a bounded tool loop. Executions are stateless between calls except for the
// worker's activity log, which feeds the next execution's prompt.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// workerHistoryPromptEntries is how many recent log entries are folded into
// a worker's system prompt.
const workerHistoryPromptEntries = 20

// ExecutionResult is the outcome of one worker execution.
type ExecutionResult struct {
	WorkerName   string
	OK           bool
	ResponseText string
	ToolsUsed    []string
	Iterations   int
	ErrorText    string
}

// WorkerRuntime executes delegated tasks against the tool registry.
type WorkerRuntime struct {
	completer Completer
	roster    *Roster
	registry  *Registry
	guard     *Guard
	composer  *PromptComposer
	logger    *slog.Logger

	maxIterations int
}

// NewWorkerRuntime wires a worker runtime. maxIterations bounds the tool
// loop of a single execution.
func NewWorkerRuntime(completer Completer, roster *Roster, registry *Registry, guard *Guard, composer *PromptComposer, maxIterations int, logger *slog.Logger) *WorkerRuntime {
	return &WorkerRuntime{
		completer:     completer,
		roster:        roster,
		registry:      registry,
		guard:         guard,
		composer:      composer,
		maxIterations: maxIterations,
		logger:        logger.With("component", "worker"),
	}
}

// Execute runs one instruction on the named worker, creating the worker on
// first use. The returned result is always populated; transport of it back
// to the orchestrator is the caller's concern.
func (rt *WorkerRuntime) Execute(ctx context.Context, workerName, instructions string, level Permission, chatID string) ExecutionResult {
	result := ExecutionResult{WorkerName: workerName}

	worker, created, err := rt.roster.GetOrCreate(ctx, workerName)
	if err != nil {
		result.ErrorText = err.Error()
		return result
	}
	if created {
		rt.logger.Info("spawned new worker", "worker", workerName)
	}

	rt.roster.Record(ctx, worker, EntryRequest, instructions)

	system := rt.composer.ComposeWorker(workerName, worker.RecentEntries(workerHistoryPromptEntries))
	tools := rt.registry.Definitions(level)
	messages := []Message{TextMessage("user", instructions)}

	start := time.Now()
	for iter := 1; iter <= rt.maxIterations; iter++ {
		result.Iterations = iter

		resp, err := rt.completer.Complete(ctx, &CompleteRequest{
			System:   system,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			result.ErrorText = fmt.Sprintf("completion failed: %v", err)
			rt.roster.Record(ctx, worker, EntryResponse, result.ErrorText)
			return result
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			result.OK = true
			result.ResponseText = resp.TextContent()
			rt.roster.Record(ctx, worker, EntryResponse, result.ResponseText)
			rt.logger.Debug("worker execution done",
				"worker", workerName,
				"iterations", iter,
				"tools", len(result.ToolsUsed),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return result
		}

		messages = append(messages, Message{Role: "assistant", Blocks: resp.Blocks})

		var toolResults []ToolResult
		for _, call := range calls {
			output, isErr := rt.runTool(ctx, worker, call, level, chatID)
			toolResults = append(toolResults, ToolResult{
				ToolCallID: call.ID,
				Content:    output,
				IsError:    isErr,
			})
			if !isErr {
				result.ToolsUsed = append(result.ToolsUsed, call.Name)
			}
		}
		messages = append(messages, ToolResultsMessage(toolResults))
	}

	result.ErrorText = "max iterations reached"
	rt.roster.Record(ctx, worker, EntryResponse, result.ErrorText)
	return result
}

// runTool validates, authorizes and executes one tool call, recording the
// action and the tool response on the worker.
func (rt *WorkerRuntime) runTool(ctx context.Context, worker *Worker, call ContentBlock, level Permission, chatID string) (output string, isErr bool) {
	var input map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return fmt.Sprintf("invalid tool input: %v", err), true
		}
	}
	if input == nil {
		input = map[string]any{}
	}

	tool, ok := rt.registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("unknown tool %q", call.Name), true
	}

	if err := rt.guard.Check(tool.Name, tool.Permission, level); err != nil {
		rt.guard.Audit(worker.Name, tool.Name, level, false, err.Error())
		return err.Error(), true
	}

	output, err := tool.Execute(ctx, input, ToolContext{
		WorkerName: worker.Name,
		ChatID:     chatID,
		Level:      level,
		Worker:     worker,
	})
	if err != nil {
		output = err.Error()
		isErr = true
	}
	rt.guard.Audit(worker.Name, tool.Name, level, true, output)

	argsJSON, _ := json.Marshal(input)
	action := fmt.Sprintf("Tool: %s, Args: %s, Result: %s", tool.Name, argsJSON, truncate(output, 200))
	rt.roster.Record(ctx, worker, EntryAction, action)
	rt.roster.Record(ctx, worker, EntryToolResponse, output)

	return output, isErr
}
