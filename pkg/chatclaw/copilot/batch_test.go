package copilot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// slowCompleter answers with a text response after a fixed delay.
type slowCompleter struct {
	delay time.Duration
	text  string
}

func (s *slowCompleter) Complete(ctx context.Context, _ *CompleteRequest) (*CompleteResponse, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return textResponse(s.text), nil
}

func newTestBatch(t *testing.T, completer Completer, timeout time.Duration) (*BatchCoordinator, chan string) {
	t.Helper()
	rt, _, _ := newTestRuntime(t, completer, 8)

	aggregates := make(chan string, 4)
	bc, err := NewBatchCoordinator(rt, timeout, func(aggregate string) {
		aggregates <- aggregate
	}, testLogger())
	if err != nil {
		t.Fatalf("NewBatchCoordinator: %v", err)
	}
	return bc, aggregates
}

func TestBatchCallbackRequired(t *testing.T) {
	rt, _, _ := newTestRuntime(t, &scriptedCompleter{}, 8)
	if _, err := NewBatchCoordinator(rt, time.Second, nil, testLogger()); err == nil {
		t.Fatal("expected error for nil callback")
	}
}

func TestBatchSingleExecution(t *testing.T) {
	completer := &scriptedCompleter{script: []*CompleteResponse{
		textResponse("all done"),
	}}
	bc, aggregates := newTestBatch(t, completer, 5*time.Second)

	bc.ExecuteWorker(context.Background(), "req-1", "solo", "do it", PermUser, "chat1")

	if bc.PendingCount() != 1 {
		t.Errorf("PendingCount right after delegation = %d, want 1", bc.PendingCount())
	}

	select {
	case aggregate := <-aggregates:
		if aggregate != "[SUCCESS] solo: all done" {
			t.Errorf("aggregate = %q", aggregate)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("aggregate never arrived")
	}

	if bc.PendingCount() != 0 {
		t.Errorf("PendingCount after completion = %d, want 0", bc.PendingCount())
	}
}

func TestBatchJoinsConcurrentExecutions(t *testing.T) {
	completer := &slowCompleter{delay: 50 * time.Millisecond, text: "finished"}
	bc, aggregates := newTestBatch(t, completer, 5*time.Second)

	ctx := context.Background()
	bc.ExecuteWorker(ctx, "req-1", "alpha", "task a", PermUser, "chat1")
	bc.ExecuteWorker(ctx, "req-2", "beta", "task b", PermUser, "chat1")
	bc.ExecuteWorker(ctx, "req-3", "gamma", "task c", PermUser, "chat1")

	if bc.PendingCount() != 3 {
		t.Errorf("PendingCount = %d, want 3", bc.PendingCount())
	}

	var aggregate string
	select {
	case aggregate = <-aggregates:
	case <-time.After(5 * time.Second):
		t.Fatal("aggregate never arrived")
	}

	// One line per worker, blank-line separated, exactly one callback.
	lines := strings.Split(aggregate, "\n\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 result lines, got %d: %q", len(lines), aggregate)
	}
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(aggregate, "[SUCCESS] "+name+": finished") {
			t.Errorf("aggregate missing result for %s: %q", name, aggregate)
		}
	}

	select {
	case extra := <-aggregates:
		t.Fatalf("unexpected second callback: %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBatchTimeout(t *testing.T) {
	completer := &slowCompleter{delay: 10 * time.Second, text: "too late"}
	bc, aggregates := newTestBatch(t, completer, 2*time.Second)

	bc.ExecuteWorker(context.Background(), "req-1", "laggard", "slow task", PermUser, "chat1")

	select {
	case aggregate := <-aggregates:
		want := "[FAILED] laggard: Execution timed out after 2 seconds"
		if aggregate != want {
			t.Errorf("aggregate = %q, want %q", aggregate, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout result never arrived")
	}
}

func TestBatchMixedResults(t *testing.T) {
	// One worker succeeds quickly; the other exceeds the timeout. The shared
	// completer sleeps only for the slow instruction.
	completer := &selectiveCompleter{
		slowFor: "take your time",
		delay:   10 * time.Second,
		text:    "answer",
	}
	bc, aggregates := newTestBatch(t, completer, time.Second)

	ctx := context.Background()
	bc.ExecuteWorker(ctx, "req-1", "fast", "answer now", PermUser, "chat1")
	bc.ExecuteWorker(ctx, "req-2", "slow", "take your time", PermUser, "chat1")

	var aggregate string
	select {
	case aggregate = <-aggregates:
	case <-time.After(5 * time.Second):
		t.Fatal("aggregate never arrived")
	}

	if !strings.Contains(aggregate, "[SUCCESS] fast: answer") {
		t.Errorf("missing fast result: %q", aggregate)
	}
	if !strings.Contains(aggregate, "[FAILED] slow: Execution timed out after 1 seconds") {
		t.Errorf("missing slow timeout: %q", aggregate)
	}
}

// selectiveCompleter sleeps only when the instruction matches slowFor.
type selectiveCompleter struct {
	mu      sync.Mutex
	slowFor string
	delay   time.Duration
	text    string
}

func (s *selectiveCompleter) Complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error) {
	slow := false
	for _, m := range req.Messages {
		for _, b := range m.Blocks {
			if strings.Contains(b.Text, s.slowFor) {
				slow = true
			}
		}
	}
	if slow {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return textResponse(s.text), nil
}

func TestFormatAggregate(t *testing.T) {
	results := []ExecutionResult{
		{WorkerName: "a", OK: true, ResponseText: "done", ToolsUsed: []string{"web_search", "web_search", "current_time"}},
		{WorkerName: "b", OK: false, ErrorText: "max iterations reached"},
	}

	got := formatAggregate(results)
	want := "[SUCCESS] a (tools: web_search, current_time): done\n\n[FAILED] b: max iterations reached"
	if got != want {
		t.Errorf("formatAggregate = %q, want %q", got, want)
	}
}
