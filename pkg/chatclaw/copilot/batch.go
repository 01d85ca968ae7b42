// Package copilot – batch.go coordinates concurrent worker executions for
// one conversation. Delegations issued while a batch is open join it; the
// aggregate report is produced exactly once, when the last execution
// finishes or times out.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchCallback receives the aggregate report of a completed batch.
type BatchCallback func(aggregate string)

// batchState tracks one open batch of worker executions.
type batchState struct {
	id           string
	createdAt    time.Time
	pendingCount int
	results      []ExecutionResult
}

// pendingExecution is one in-flight delegation.
type pendingExecution struct {
	requestID  string
	workerName string
	startedAt  time.Time
}

// BatchCoordinator fans worker executions out and joins their results. One
// coordinator serves one conversation.
type BatchCoordinator struct {
	runtime    *WorkerRuntime
	timeout    time.Duration
	onComplete BatchCallback
	logger     *slog.Logger

	mu      sync.Mutex
	batch   *batchState
	pending map[string]*pendingExecution
}

// NewBatchCoordinator wires a coordinator. The callback is mandatory;
// without it batch results would be silently dropped.
func NewBatchCoordinator(runtime *WorkerRuntime, timeout time.Duration, onComplete BatchCallback, logger *slog.Logger) (*BatchCoordinator, error) {
	if onComplete == nil {
		return nil, fmt.Errorf("batch callback is required")
	}
	return &BatchCoordinator{
		runtime:    runtime,
		timeout:    timeout,
		onComplete: onComplete,
		logger:     logger.With("component", "batch"),
		pending:    make(map[string]*pendingExecution),
	}, nil
}

// ExecuteWorker registers a delegation in the current batch (opening one if
// none is live) and runs it in the background. Registration is synchronous
// so the caller observes a non-zero pending count immediately.
func (bc *BatchCoordinator) ExecuteWorker(ctx context.Context, requestID, workerName, instructions string, level Permission, chatID string) {
	bc.mu.Lock()
	if bc.batch == nil {
		bc.batch = &batchState{id: uuid.NewString(), createdAt: time.Now()}
		bc.logger.Debug("batch opened", "batch_id", bc.batch.id)
	}
	bc.batch.pendingCount++
	bc.pending[requestID] = &pendingExecution{
		requestID:  requestID,
		workerName: workerName,
		startedAt:  time.Now(),
	}
	bc.mu.Unlock()

	go bc.run(ctx, requestID, workerName, instructions, level, chatID)
}

// run races the worker execution against the timeout and records whichever
// result wins. The losing execution keeps running but its result is dropped.
func (bc *BatchCoordinator) run(ctx context.Context, requestID, workerName, instructions string, level Permission, chatID string) {
	done := make(chan ExecutionResult, 1)
	go func() {
		done <- bc.runtime.Execute(ctx, workerName, instructions, level, chatID)
	}()

	var result ExecutionResult
	select {
	case result = <-done:
	case <-time.After(bc.timeout):
		result = ExecutionResult{
			WorkerName: workerName,
			OK:         false,
			ErrorText:  fmt.Sprintf("Execution timed out after %d seconds", int(bc.timeout.Seconds())),
		}
		bc.logger.Warn("worker execution timed out", "worker", workerName, "request_id", requestID)
	}

	bc.finish(requestID, result)
}

// finish records one result and fires the callback when the batch drains.
func (bc *BatchCoordinator) finish(requestID string, result ExecutionResult) {
	bc.mu.Lock()
	if _, ok := bc.pending[requestID]; !ok {
		// Late result of an already timed-out execution.
		bc.mu.Unlock()
		return
	}
	delete(bc.pending, requestID)

	batch := bc.batch
	batch.results = append(batch.results, result)
	batch.pendingCount--

	var aggregate string
	if batch.pendingCount == 0 {
		aggregate = formatAggregate(batch.results)
		bc.batch = nil
		bc.logger.Debug("batch complete",
			"batch_id", batch.id,
			"results", len(batch.results),
			"duration_ms", time.Since(batch.createdAt).Milliseconds(),
		)
	}
	bc.mu.Unlock()

	// Fire outside the lock; the callback re-enters the conversation.
	if aggregate != "" {
		bc.onComplete(aggregate)
	}
}

// PendingCount returns how many executions are still in flight.
func (bc *BatchCoordinator) PendingCount() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.batch == nil {
		return 0
	}
	return bc.batch.pendingCount
}

// formatAggregate renders one line per execution result, blank-line
// separated. The model reads this, not the user.
func formatAggregate(results []ExecutionResult) string {
	var lines []string
	for _, r := range results {
		var b strings.Builder
		if r.OK {
			b.WriteString("[SUCCESS] ")
		} else {
			b.WriteString("[FAILED] ")
		}
		b.WriteString(r.WorkerName)
		if tools := dedupe(r.ToolsUsed); len(tools) > 0 {
			b.WriteString(" (tools: ")
			b.WriteString(strings.Join(tools, ", "))
			b.WriteString(")")
		}
		b.WriteString(": ")
		if r.OK {
			b.WriteString(r.ResponseText)
		} else {
			b.WriteString(r.ErrorText)
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n\n")
}

// dedupe removes duplicates while preserving the first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
