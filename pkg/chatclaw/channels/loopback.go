// loopback.go is an in-process channel used by the interactive chat command
// and by tests: inbound messages are injected locally and outbound actions
// surface on a readable stream instead of a network.
package channels

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Loopback event kinds.
const (
	LoopbackText      = "text"
	LoopbackReaction  = "reaction"
	LoopbackTypingOn  = "typing_on"
	LoopbackTypingOff = "typing_off"
)

// LoopbackEvent is one observable outbound action from the assistant.
type LoopbackEvent struct {
	Kind   string
	ChatID string
	Text   string
}

// Loopback is the in-process channel.
type Loopback struct {
	chatID    string
	inbound   chan InboundMessage
	outbound  chan LoopbackEvent
	connected bool
	seq       atomic.Int64
	mu        sync.Mutex
}

// NewLoopback creates a loopback channel bound to one pseudo chat.
func NewLoopback(chatID string) *Loopback {
	return &Loopback{
		chatID:   chatID,
		inbound:  make(chan InboundMessage, 16),
		outbound: make(chan LoopbackEvent, 64),
	}
}

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	return nil
}

func (l *Loopback) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		l.connected = false
		close(l.inbound)
	}
	return nil
}

func (l *Loopback) Receive() <-chan InboundMessage { return l.inbound }

// Events returns the stream of outbound actions for display or assertions.
func (l *Loopback) Events() <-chan LoopbackEvent { return l.outbound }

// Inject simulates a user sending a message.
func (l *Loopback) Inject(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return
	}
	l.inbound <- InboundMessage{
		ID:        fmt.Sprintf("loopback-%d", l.seq.Add(1)),
		Channel:   l.Name(),
		ChatID:    l.chatID,
		Text:      text,
		Timestamp: time.Now(),
	}
}

func (l *Loopback) SendText(ctx context.Context, chatID, text string) error {
	if !l.IsConnected() {
		return ErrDisconnected
	}
	l.emit(LoopbackEvent{Kind: LoopbackText, ChatID: chatID, Text: text})
	return nil
}

func (l *Loopback) SendReaction(ctx context.Context, chatID, targetMessageID, emoji string) error {
	if !l.IsConnected() {
		return ErrDisconnected
	}
	l.emit(LoopbackEvent{Kind: LoopbackReaction, ChatID: chatID, Text: emoji})
	return nil
}

func (l *Loopback) SetTyping(ctx context.Context, chatID string, typing bool) error {
	kind := LoopbackTypingOff
	if typing {
		kind = LoopbackTypingOn
	}
	l.emit(LoopbackEvent{Kind: kind, ChatID: chatID})
	return nil
}

func (l *Loopback) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// emit never blocks; the oldest event is dropped if the buffer is full.
func (l *Loopback) emit(ev LoopbackEvent) {
	select {
	case l.outbound <- ev:
	default:
		select {
		case <-l.outbound:
		default:
		}
		l.outbound <- ev
	}
}
