// Package copilot – prompts.go assembles the layered system prompts for the
// orchestrator and for worker executions, and builds the structured trigger
// prompt that opens each interaction.
package copilot

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PromptLayer defines the priority of a prompt layer. Lower values come
// first in the assembled prompt.
type PromptLayer int

const (
	LayerCore     PromptLayer = 0  // Base identity and tool guidance.
	LayerIdentity PromptLayer = 10 // Custom instructions from config.
	LayerTemporal PromptLayer = 60 // Date/time context.
	LayerRuntime  PromptLayer = 80 // Runtime info (final line).
)

// layerEntry represents a single prompt layer entry.
type layerEntry struct {
	layer   PromptLayer
	content string
}

// PromptComposer assembles system prompts from layers.
type PromptComposer struct {
	name         string
	instructions string
	timezone     string
	model        string
}

// NewPromptComposer creates a composer from config.
func NewPromptComposer(cfg *Config) *PromptComposer {
	return &PromptComposer{
		name:         cfg.Name,
		instructions: cfg.Instructions,
		timezone:     cfg.Timezone,
		model:        cfg.LLM.Model,
	}
}

// ComposeOrchestrator builds the system prompt for the interaction loop.
func (p *PromptComposer) ComposeOrchestrator() string {
	layers := []layerEntry{
		{LayerCore, p.buildOrchestratorCore()},
		{LayerTemporal, p.buildTemporalLayer()},
		{LayerRuntime, p.buildRuntimeLayer()},
	}
	if p.instructions != "" {
		layers = append(layers, layerEntry{LayerIdentity, "## Custom Instructions\n\n" + p.instructions})
	}
	return assembleLayers(layers)
}

// ComposeWorker builds the system prompt for one worker execution, folding
// in the worker's recent activity.
func (p *PromptComposer) ComposeWorker(workerName string, history []WorkerEntry) string {
	layers := []layerEntry{
		{LayerCore, p.buildWorkerCore(workerName)},
		{LayerTemporal, p.buildTemporalLayer()},
	}
	if rendered := RenderWorkerHistory(history); rendered != "" {
		layers = append(layers, layerEntry{LayerIdentity, "## Recent Activity\n\n" + rendered})
	}
	return assembleLayers(layers)
}

func (p *PromptComposer) buildOrchestratorCore() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are %s, a conversational assistant reachable through a chat app.\n\n", p.name))
	b.WriteString("## Tooling\n\n")
	b.WriteString("You interact with the world only through tools:\n")
	b.WriteString("- send_to_user: deliver a message to the chat. Separate multiple bubbles with \"" + BubbleSeparator + "\".\n")
	b.WriteString("- send_to_worker: delegate a task to a named background worker. Workers run concurrently; results come back as a later trigger.\n")
	b.WriteString("- wait: deliberately do nothing this turn, stating why.\n")
	b.WriteString("- react: attach a reaction to the user's latest message.\n")
	b.WriteString("You may also search the web. Unanswered text outside of tools is still delivered to the user.\n\n")
	b.WriteString("## Style\n\n")
	b.WriteString("Write like a person texting: short, warm, no markdown headers. ")
	b.WriteString("Do not repeat yourself, and do not mention tools or workers to the user.")
	return b.String()
}

func (p *PromptComposer) buildWorkerCore(workerName string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are %q, a background worker for the assistant %s.\n\n", workerName, p.name))
	b.WriteString("You receive one instruction per execution. Use your tools when they help, ")
	b.WriteString("then reply with a final plain-text result. The result is relayed to the ")
	b.WriteString("orchestrator, not shown to the user verbatim, so be factual and complete.")
	return b.String()
}

func (p *PromptComposer) buildTemporalLayer() string {
	loc, err := time.LoadLocation(p.timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	return fmt.Sprintf("## Current Date & Time\n\n%s\nTimezone: %s\nDay: %s",
		now.Format("2006-01-02 15:04:05"),
		loc.String(),
		now.Format("Monday"),
	)
}

func (p *PromptComposer) buildRuntimeLayer() string {
	return fmt.Sprintf("---\nRuntime: assistant=%s | model=%s", p.name, p.model)
}

// assembleLayers combines all layers in priority order.
func assembleLayers(layers []layerEntry) string {
	sort.Slice(layers, func(i, j int) bool {
		return layers[i].layer < layers[j].layer
	})
	var parts []string
	for _, l := range layers {
		if l.content != "" {
			parts = append(parts, l.content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// promptHistoryLimit caps how many history turns the trigger prompt embeds.
const promptHistoryLimit = 10

// BuildInitialPrompt renders the structured prompt that opens an
// interaction: recent history in tagged sections, the live worker count,
// and the triggering payload.
func BuildInitialPrompt(trig *Trigger, activeWorkers int) string {
	var b strings.Builder

	history := trig.History
	if len(history) > promptHistoryLimit {
		history = history[len(history)-promptHistoryLimit:]
	}

	b.WriteString("<conversation_history>\n")
	for _, e := range history {
		tag := "user_message"
		if e.Role == RoleAssistant {
			tag = "assistant_message"
		}
		fmt.Fprintf(&b, "<%s>%s</%s>\n", tag, XMLEscape(e.Text), tag)
	}
	b.WriteString("</conversation_history>\n\n")

	fmt.Fprintf(&b, "<active_workers>%d</active_workers>\n\n", activeWorkers)

	switch trig.Kind {
	case TriggerWorkerResult:
		fmt.Fprintf(&b, "<new_worker_message>%s</new_worker_message>", XMLEscape(trig.Payload))
	default:
		fmt.Fprintf(&b, "<new_user_message>%s</new_user_message>", XMLEscape(trig.Payload))
	}
	return b.String()
}

// RenderWorkerHistory formats worker log entries for the worker prompt.
func RenderWorkerHistory(entries []WorkerEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] (%s) %s\n",
			strings.ToUpper(string(e.Type)),
			e.Timestamp.Format(time.RFC3339),
			truncate(e.Content, 200),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}
