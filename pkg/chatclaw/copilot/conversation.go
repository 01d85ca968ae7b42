// Package copilot – conversation.go tracks per-conversation state: rolling
// history, the echo suppression cache, the rate limiter window, and the
// identity of the last inbound message (used as a reaction target).
package copilot

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// HistoryRole identifies who produced a history entry.
type HistoryRole string

const (
	RoleUser      HistoryRole = "user"
	RoleAssistant HistoryRole = "assistant"
)

// HistoryEntry is one turn in the rolling conversation history.
type HistoryEntry struct {
	Role      HistoryRole
	Text      string
	Timestamp time.Time
}

// echoEntry is a recently sent outbound text awaiting its transport echo.
type echoEntry struct {
	normalized string
	sentAt     time.Time
}

// Conversation holds the mutable state for one chat. All methods are safe
// for concurrent use, though the gateway serializes triggers per chat.
type Conversation struct {
	ChatID string

	mu              sync.Mutex
	history         []HistoryEntry
	historyKeep     int
	echoes          []echoEntry
	echoTTL         time.Duration
	rateTimes       []time.Time
	rateWindow      time.Duration
	rateMax         int
	lastInboundID   string
	lastInboundText string
}

// NewConversation creates conversation state with the given limits.
func NewConversation(chatID string, historyKeep int, echoTTL time.Duration, rateWindow time.Duration, rateMax int) *Conversation {
	return &Conversation{
		ChatID:      chatID,
		historyKeep: historyKeep,
		echoTTL:     echoTTL,
		rateWindow:  rateWindow,
		rateMax:     rateMax,
	}
}

// RecordInbound appends a user message to history and remembers it as the
// reaction target.
func (c *Conversation) RecordInbound(messageID, text string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastInboundID = messageID
	c.lastInboundText = text
	c.appendLocked(HistoryEntry{Role: RoleUser, Text: text, Timestamp: at})
}

// RecordOutbound appends an assistant message to history and registers it in
// the echo cache so the transport echo of this send is suppressed.
func (c *Conversation) RecordOutbound(text string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(HistoryEntry{Role: RoleAssistant, Text: text, Timestamp: at})
	c.echoes = append(c.echoes, echoEntry{normalized: NormalizeForEcho(text), sentAt: at})
}

func (c *Conversation) appendLocked(e HistoryEntry) {
	c.history = append(c.history, e)
	if c.historyKeep > 0 && len(c.history) > c.historyKeep {
		c.history = c.history[len(c.history)-c.historyKeep:]
	}
}

// History returns a snapshot of the rolling history.
func (c *Conversation) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// LastInbound returns the ID and text of the most recent user message.
func (c *Conversation) LastInbound() (id, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInboundID, c.lastInboundText
}

// IsEcho reports whether text matches a recently sent outbound message. A
// matching entry is consumed so repeated identical user messages are not
// swallowed beyond the one echo.
func (c *Conversation) IsEcho(text string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	norm := NormalizeForEcho(text)
	kept := c.echoes[:0]
	matched := false
	for _, e := range c.echoes {
		if now.Sub(e.sentAt) > c.echoTTL {
			continue
		}
		if !matched && e.normalized == norm {
			matched = true
			continue
		}
		kept = append(kept, e)
	}
	c.echoes = kept
	return matched
}

// AllowMessage records one inbound message against the sliding rate window
// and reports whether it is within the limit.
func (c *Conversation) AllowMessage(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-c.rateWindow)
	kept := c.rateTimes[:0]
	for _, t := range c.rateTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.rateTimes = kept
	if len(c.rateTimes) >= c.rateMax {
		return false
	}
	c.rateTimes = append(c.rateTimes, now)
	return true
}

// tapbackPrefixes are the verb forms transports render for reactions to a
// quoted message.
var tapbackPrefixes = []string{
	"Liked ",
	"Loved ",
	"Disliked ",
	"Laughed at ",
	"Emphasized ",
	"Questioned ",
}

// IsTapbackText reports whether text is a transport-rendered reaction
// notice rather than a real user message. Two shapes are recognized:
// a verb followed by a straight or curly quoted excerpt, and the
// "Reacted <emoji> to ..." form.
func IsTapbackText(text string) bool {
	t := strings.TrimSpace(text)
	for _, p := range tapbackPrefixes {
		if rest, ok := strings.CutPrefix(t, p); ok {
			if len(rest) > 0 {
				switch rest[0] {
				case '"':
					return true
				}
				r := []rune(rest)
				if r[0] == '“' || r[0] == '”' {
					return true
				}
			}
		}
	}
	if rest, ok := strings.CutPrefix(t, "Reacted "); ok {
		if idx := strings.Index(rest, " to "); idx > 0 {
			head := rest[:idx]
			for _, r := range head {
				if r > unicode.MaxASCII {
					return true
				}
			}
		}
	}
	return false
}
