// Package scheduler – tools.go exposes the reminder operations as worker
// tools.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/copilot"
)

// RegisterTools adds the reminder tools to a worker tool registry.
func RegisterTools(reg *copilot.Registry, s *Scheduler) {
	reg.Register(&copilot.Tool{
		Name:        "reminder_create",
		Description: "Schedule a reminder for this conversation. Provide either \"at\" (RFC 3339 timestamp) for a one-time reminder or \"cron\" (standard 5-field expression) for a recurring one.",
		Permission:  copilot.PermUser,
		Schema: copilot.InputSchema{
			Properties: map[string]any{
				"text": map[string]any{"type": "string", "description": "What to remind about."},
				"at":   map[string]any{"type": "string", "description": "One-time fire moment, RFC 3339."},
				"cron": map[string]any{"type": "string", "description": "Recurring schedule, e.g. \"0 9 * * 1-5\"."},
			},
			Required: []string{"text"},
		},
		Execute: func(ctx context.Context, input map[string]any, tc copilot.ToolContext) (string, error) {
			text, ok := input["text"].(string)
			if !ok || strings.TrimSpace(text) == "" {
				return "", fmt.Errorf("missing required field %q", "text")
			}
			at, _ := input["at"].(string)
			cronExpr, _ := input["cron"].(string)

			switch {
			case at != "" && cronExpr != "":
				return "", fmt.Errorf("provide either \"at\" or \"cron\", not both")
			case at != "":
				when, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return "", fmt.Errorf("invalid timestamp %q: %w", at, err)
				}
				r, err := s.CreateOneShot(tc.ChatID, text, when)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Reminder %s set for %s.", r.ID, when.Format(time.RFC3339)), nil
			case cronExpr != "":
				r, err := s.CreateRecurring(tc.ChatID, text, cronExpr)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Recurring reminder %s set (%s).", r.ID, cronExpr), nil
			default:
				return "", fmt.Errorf("one of \"at\" or \"cron\" is required")
			}
		},
	})

	reg.Register(&copilot.Tool{
		Name:        "reminder_list",
		Description: "List the reminders scheduled for this conversation.",
		Permission:  copilot.PermUser,
		Schema:      copilot.InputSchema{Properties: map[string]any{}},
		Execute: func(ctx context.Context, input map[string]any, tc copilot.ToolContext) (string, error) {
			reminders := s.List(tc.ChatID)
			if len(reminders) == 0 {
				return "no reminders scheduled", nil
			}
			var b strings.Builder
			for _, r := range reminders {
				if r.Recurring() {
					fmt.Fprintf(&b, "- %s: %q every %s\n", r.ID, r.Text, r.CronExpr)
				} else {
					fmt.Fprintf(&b, "- %s: %q at %s\n", r.ID, r.Text, r.FireAt.Format(time.RFC3339))
				}
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})

	reg.Register(&copilot.Tool{
		Name:        "reminder_cancel",
		Description: "Cancel a reminder by its ID.",
		Permission:  copilot.PermUser,
		Schema: copilot.InputSchema{
			Properties: map[string]any{
				"id": map[string]any{"type": "string", "description": "Reminder ID from reminder_list."},
			},
			Required: []string{"id"},
		},
		Execute: func(ctx context.Context, input map[string]any, tc copilot.ToolContext) (string, error) {
			id, ok := input["id"].(string)
			if !ok || id == "" {
				return "", fmt.Errorf("missing required field %q", "id")
			}
			if err := s.Cancel(id); err != nil {
				return "", err
			}
			return fmt.Sprintf("Reminder %s cancelled.", id), nil
		},
	})
}
