// Package copilot – orchestrator.go runs the user-facing interaction loop:
// one bounded tool-use conversation with the model per trigger, producing
// outbound sends, reactions and worker delegations as side effects.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// TriggerKind distinguishes what invoked the orchestrator.
type TriggerKind string

const (
	TriggerUser         TriggerKind = "user"
	TriggerWorkerResult TriggerKind = "worker_result"
)

// Trigger is one orchestrator invocation: a new user message or the
// aggregate result of a completed worker batch.
type Trigger struct {
	Kind    TriggerKind
	ChatID  string
	Payload string

	// History is a snapshot of the conversation taken by the gating layer.
	History []HistoryEntry

	// IsTapback suppresses the pre-emptive acknowledgment for this trigger.
	IsTapback bool

	// Acknowledged records that the gating layer already sent an ack.
	Acknowledged bool
}

// InteractionResult reports what one orchestrator run did.
type InteractionResult struct {
	OK          bool
	Iterations  int
	SentBubbles int
	Delegations int
	ErrorText   string
}

// Orchestrator drives the interaction loop for one conversation.
type Orchestrator struct {
	completer Completer
	transport Transport
	batch     *BatchCoordinator
	conv      *Conversation
	composer  *PromptComposer
	logger    *slog.Logger

	maxIterations    int
	enableWebSearch  bool
	webSearchMaxUses int
	ackText          string
	workerLevel      Permission
}

// NewOrchestrator wires an orchestrator for one conversation.
func NewOrchestrator(completer Completer, transport Transport, batch *BatchCoordinator, conv *Conversation, composer *PromptComposer, cfg *Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		completer:        completer,
		transport:        transport,
		batch:            batch,
		conv:             conv,
		composer:         composer,
		logger:           logger.With("component", "orchestrator", "chat", conv.ChatID),
		maxIterations:    cfg.Orchestrator.MaxToolIterations,
		enableWebSearch:  cfg.LLM.EnableWebSearch,
		webSearchMaxUses: cfg.LLM.WebSearchMaxUses,
		ackText:          cfg.Gating.AckText,
		workerLevel:      ParsePermission(cfg.Orchestrator.WorkerPermission),
	}
}

// interactionToolDefs are the client tools offered to the model in the
// interaction loop.
func interactionToolDefs() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "send_to_user",
			Description: "Send a text message to the user. Separate multiple chat bubbles with \"" + BubbleSeparator + "\".",
			Schema: InputSchema{
				Properties: map[string]any{
					"message": map[string]any{"type": "string", "description": "The message text."},
				},
				Required: []string{"message"},
			},
		},
		{
			Name:        "send_to_worker",
			Description: "Delegate a task to a named background worker. Workers run concurrently and report back later.",
			Schema: InputSchema{
				Properties: map[string]any{
					"worker_name":  map[string]any{"type": "string", "description": "Stable, human-meaningful worker name, e.g. \"Weather Lookup\"."},
					"instructions": map[string]any{"type": "string", "description": "What the worker should do."},
				},
				Required: []string{"worker_name", "instructions"},
			},
		},
		{
			Name:        "wait",
			Description: "Deliberately do nothing this turn.",
			Schema: InputSchema{
				Properties: map[string]any{
					"reason": map[string]any{"type": "string", "description": "Why no action is taken."},
				},
				Required: []string{"reason"},
			},
		},
		{
			Name:        "react",
			Description: "Attach a reaction to the user's most recent message.",
			Schema: InputSchema{
				Properties: map[string]any{
					"reaction": map[string]any{
						"type":        "string",
						"enum":        []string{"love", "like", "dislike", "laugh", "emphasize", "question"},
						"description": "Reaction kind.",
					},
				},
				Required: []string{"reaction"},
			},
		},
	}
}

// Run executes the interaction loop for one trigger. Side effects already
// performed are never rolled back on failure.
func (o *Orchestrator) Run(ctx context.Context, trig *Trigger) InteractionResult {
	result := InteractionResult{}
	acked := trig.Acknowledged

	system := o.composer.ComposeOrchestrator()
	tools := interactionToolDefs()
	messages := []Message{TextMessage("user", BuildInitialPrompt(trig, o.batch.PendingCount()))}

	for iter := 1; iter <= o.maxIterations; iter++ {
		result.Iterations = iter

		resp, err := o.completer.Complete(ctx, &CompleteRequest{
			System:           system,
			Messages:         messages,
			Tools:            tools,
			EnableWebSearch:  o.enableWebSearch,
			WebSearchMaxUses: o.webSearchMaxUses,
		})
		if err != nil {
			result.ErrorText = fmt.Sprintf("completion failed: %v", err)
			o.logger.Error("interaction loop aborted", "iteration", iter, "error", err)
			return result
		}

		// A server-side search is slow; let the user know we are on it.
		if resp.HasServerToolUse() && !acked && !trig.IsTapback {
			o.sendAck(ctx)
			acked = true
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			if text := resp.TextContent(); text != "" {
				result.SentBubbles += o.sendToUser(ctx, text)
			}
			result.OK = true
			o.logger.Debug("interaction done", "iterations", iter, "bubbles", result.SentBubbles)
			return result
		}

		messages = append(messages, Message{Role: "assistant", Blocks: resp.Blocks})

		var toolResults []ToolResult
		for _, call := range calls {
			content, isErr := o.handleToolCall(ctx, trig, call, &acked, &result)
			toolResults = append(toolResults, ToolResult{ToolCallID: call.ID, Content: content, IsError: isErr})
		}
		messages = append(messages, ToolResultsMessage(toolResults))
	}

	result.ErrorText = "max iterations reached"
	o.logger.Warn("interaction hit iteration cap", "iterations", result.Iterations)
	return result
}

// handleToolCall validates and executes one interaction tool call. Errors
// come back as tool results so the model can react to them.
func (o *Orchestrator) handleToolCall(ctx context.Context, trig *Trigger, call ContentBlock, acked *bool, result *InteractionResult) (string, bool) {
	var input map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return fmt.Sprintf("invalid tool input: %v", err), true
		}
	}

	switch call.Name {
	case "send_to_user":
		message, err := stringArg(input, "message")
		if err != nil {
			return err.Error(), true
		}
		result.SentBubbles += o.sendToUser(ctx, message)
		return "Message sent to user.", false

	case "send_to_worker":
		workerName, err := stringArg(input, "worker_name")
		if err != nil {
			return err.Error(), true
		}
		instructions, err := stringArg(input, "instructions")
		if err != nil {
			return err.Error(), true
		}
		if !*acked && !trig.IsTapback {
			o.sendAck(ctx)
			*acked = true
		}
		requestID := uuid.NewString()
		// The delegation outlives this trigger; detach it from the
		// trigger's cancellation.
		o.batch.ExecuteWorker(context.WithoutCancel(ctx), requestID, workerName, instructions, o.workerLevel, trig.ChatID)
		result.Delegations++
		o.logger.Info("delegated to worker", "worker", workerName, "request_id", requestID)
		return fmt.Sprintf("Delegated to worker %q (request %s). The result will arrive as a later message.", workerName, requestID), false

	case "wait":
		reason := optionalStringArg(input, "reason")
		o.logger.Debug("model chose to wait", "reason", reason)
		return "Waiting: " + reason, false

	case "react":
		kind, err := stringArg(input, "reaction")
		if err != nil {
			return err.Error(), true
		}
		emoji, ok := ReactionEmoji[kind]
		if !ok {
			return fmt.Sprintf("unknown reaction %q", kind), true
		}
		targetID, _ := o.conv.LastInbound()
		if targetID == "" {
			return "no recent user message to react to", false
		}
		if err := o.transport.SendReaction(ctx, trig.ChatID, targetID, emoji); err != nil {
			return fmt.Sprintf("reaction failed: %v", err), true
		}
		return "Reaction sent.", false

	default:
		return fmt.Sprintf("unknown tool %q", call.Name), true
	}
}

// sendToUser cleans the text, splits it into bubbles, sends each, and
// records them for echo suppression. Returns the number of bubbles sent.
func (o *Orchestrator) sendToUser(ctx context.Context, text string) int {
	text = FormatSearchResults(text)
	sent := 0
	for _, bubble := range SplitBubbles(text) {
		if err := o.transport.SendText(ctx, o.conv.ChatID, bubble); err != nil {
			o.logger.Warn("send failed", "error", err)
			continue
		}
		o.conv.RecordOutbound(bubble, time.Now())
		sent++
	}
	return sent
}

// sendAck sends the short pre-emptive acknowledgment text.
func (o *Orchestrator) sendAck(ctx context.Context) {
	if o.ackText == "" {
		return
	}
	if err := o.transport.SendText(ctx, o.conv.ChatID, o.ackText); err != nil {
		o.logger.Warn("ack send failed", "error", err)
		return
	}
	o.conv.RecordOutbound(o.ackText, time.Now())
}
