// Package channels defines the contract between the assistant core and the
// messaging platforms it talks through. Each channel (WhatsApp, the local
// loopback) implements Channel to deliver inbound messages and perform the
// outbound actions the core needs: text, reactions, typing.
package channels

import (
	"context"
	"fmt"
	"time"
)

// InboundMessage is one message event from a platform.
type InboundMessage struct {
	// ID is the platform's unique message identifier.
	ID string

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// ChatID is the conversation identifier on the platform.
	ChatID string

	// From is the sender identifier (if available).
	From string

	// FromSelf is true when the event is our own outbound message being
	// delivered back. The core decides what to do with those.
	FromSelf bool

	// Text is the message content. Non-text messages arrive with a short
	// placeholder description.
	Text string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// Channel is the interface every messaging platform adapter implements.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes the connection to the platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Receive returns the stream of inbound messages. The channel is
	// closed on disconnect.
	Receive() <-chan InboundMessage

	// SendText delivers one text message to a chat.
	SendText(ctx context.Context, chatID, text string) error

	// SendReaction attaches an emoji reaction to a message.
	SendReaction(ctx context.Context, chatID, targetMessageID, emoji string) error

	// SetTyping turns the typing indicator on or off. Best effort.
	SetTyping(ctx context.Context, chatID string, typing bool) error

	// IsConnected reports whether the channel is currently usable.
	IsConnected() bool
}

// Errors shared by channel implementations.
var (
	ErrDisconnected = fmt.Errorf("channel is not connected")
	ErrUnknownChat  = fmt.Errorf("unknown chat identifier")
)
