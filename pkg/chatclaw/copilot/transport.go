// Package copilot – transport.go defines the outbound contract toward the
// chat platform. The gating layer and orchestrator only ever see this record
// of functions, so any channel (or a test double) can plug in.
package copilot

import "context"

// Transport carries the four outbound capabilities the assistant needs.
// All fields must be set; a channel that cannot express one of them should
// provide a no-op that returns nil.
type Transport struct {
	SendText     func(ctx context.Context, chatID, text string) error
	SendReaction func(ctx context.Context, chatID, targetMessageID, emoji string) error
	StartTyping  func(ctx context.Context, chatID string) error
	StopTyping   func(ctx context.Context, chatID string) error
}

// ReactionEmoji maps the reaction kinds the model may request to the emoji
// sent on the wire.
var ReactionEmoji = map[string]string{
	"love":      "❤️",
	"like":      "\U0001f44d",
	"dislike":   "\U0001f44e",
	"laugh":     "\U0001f602",
	"emphasize": "‼️",
	"question":  "❓",
}
