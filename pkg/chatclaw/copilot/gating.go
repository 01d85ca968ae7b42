// Package copilot – gating.go is the top-level dispatcher between the
// transport and the orchestrator. It drops echoes, rate-limited loops and
// self-sent events, serializes triggers per conversation through a mailbox,
// and keeps typing-indicator starts and stops balanced on every return path.
package copilot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// InboundEvent is one raw message event from the transport.
type InboundEvent struct {
	ID        string
	ChatID    string
	FromSelf  bool
	Text      string
	Timestamp time.Time
}

// gateEvent is one unit of work in a conversation's mailbox.
type gateEvent struct {
	kind    TriggerKind
	inbound InboundEvent
	payload string
}

// seenIDCap bounds the per-conversation duplicate-ID ring.
const seenIDCap = 64

// chatSession is the per-conversation state owned by the gateway.
type chatSession struct {
	conv   *Conversation
	batch  *BatchCoordinator
	orch   *Orchestrator
	events chan gateEvent

	// typingActive is only touched by the session goroutine.
	typingActive bool

	seenIDs []string
}

// Gateway receives transport events and drives orchestrator invocations.
type Gateway struct {
	cfg       *Config
	completer Completer
	transport Transport
	runtime   *WorkerRuntime
	composer  *PromptComposer
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*chatSession
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewGateway wires the dispatcher. Sessions are created lazily per chat.
func NewGateway(cfg *Config, completer Completer, transport Transport, runtime *WorkerRuntime, composer *PromptComposer, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:       cfg,
		completer: completer,
		transport: transport,
		runtime:   runtime,
		composer:  composer,
		logger:    logger.With("component", "gateway"),
		sessions:  make(map[string]*chatSession),
		quit:      make(chan struct{}),
	}
}

// OnInbound enqueues one transport event for its conversation. Events for
// the same chat are processed strictly in arrival order.
func (g *Gateway) OnInbound(ev InboundEvent) {
	sess := g.session(ev.ChatID)
	select {
	case sess.events <- gateEvent{kind: TriggerUser, inbound: ev}:
	default:
		g.logger.Warn("mailbox full, dropping event", "chat", ev.ChatID, "message_id", ev.ID)
	}
}

// enqueueWorkerResult feeds a completed batch aggregate back in as a new
// trigger on the same conversation.
func (g *Gateway) enqueueWorkerResult(chatID, aggregate string) {
	sess := g.session(chatID)
	select {
	case sess.events <- gateEvent{kind: TriggerWorkerResult, payload: aggregate}:
	default:
		g.logger.Warn("mailbox full, dropping worker result", "chat", chatID)
	}
}

// DeliverSystemText sends a system-originated message (e.g. a due reminder)
// to a chat and registers it for echo suppression. It bypasses the mailbox;
// system texts need no orchestrator run.
func (g *Gateway) DeliverSystemText(chatID, text string) {
	sess := g.session(chatID)
	if err := g.transport.SendText(context.Background(), chatID, text); err != nil {
		g.logger.Warn("system text delivery failed", "chat", chatID, "error", err)
		return
	}
	sess.conv.RecordOutbound(text, time.Now())
}

// Close stops all session goroutines and waits for in-flight triggers.
func (g *Gateway) Close() {
	close(g.quit)
	g.wg.Wait()
}

// session returns the chat's session, creating it and its mailbox goroutine
// on first use.
func (g *Gateway) session(chatID string) *chatSession {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sess, ok := g.sessions[chatID]; ok {
		return sess
	}

	gc := g.cfg.Gating
	conv := NewConversation(chatID,
		gc.HistoryKeep,
		time.Duration(gc.EchoTTLSeconds)*time.Second,
		time.Duration(gc.RateWindowSeconds)*time.Second,
		gc.RateMax,
	)

	sess := &chatSession{
		conv:   conv,
		events: make(chan gateEvent, gc.MailboxSize),
	}

	timeout := time.Duration(g.cfg.Batch.TimeoutSeconds) * time.Second
	batch, err := NewBatchCoordinator(g.runtime, timeout, func(aggregate string) {
		g.enqueueWorkerResult(chatID, aggregate)
	}, g.logger)
	if err != nil {
		// Unreachable: the callback above is always non-nil.
		panic(err)
	}
	sess.batch = batch
	sess.orch = NewOrchestrator(g.completer, g.transport, batch, conv, g.composer, g.cfg, g.logger)

	g.sessions[chatID] = sess

	g.wg.Add(1)
	go g.runSession(sess)
	g.logger.Debug("session created", "chat", chatID)
	return sess
}

// runSession is the mailbox loop: one trigger at a time per conversation.
func (g *Gateway) runSession(sess *chatSession) {
	defer g.wg.Done()
	for {
		select {
		case <-g.quit:
			return
		case e := <-sess.events:
			switch e.kind {
			case TriggerWorkerResult:
				g.processWorkerResult(sess, e.payload)
			default:
				g.processInbound(sess, e.inbound)
			}
		}
	}
}

// processInbound runs the gating pipeline for one user event and, when it
// passes, the orchestrator.
func (g *Gateway) processInbound(sess *chatSession, ev InboundEvent) {
	log := g.logger.With("chat", ev.ChatID, "message_id", ev.ID)

	// ── Step 1: never respond to our own events ──
	if ev.FromSelf {
		log.Debug("dropping self event")
		return
	}

	// ── Step 2: duplicate delivery ──
	if sess.sawMessageID(ev.ID) {
		log.Debug("dropping duplicate delivery")
		return
	}

	now := time.Now()

	// ── Step 3: echo suppression ──
	if sess.conv.IsEcho(ev.Text, now) {
		log.Debug("dropping transport echo")
		return
	}

	// ── Step 4: rate limit ──
	if !sess.conv.AllowMessage(now) {
		log.Warn("rate limit exceeded, dropping event")
		return
	}

	// ── Step 5: tapback detection ──
	isTapback := IsTapbackText(ev.Text)

	// ── Step 6: record in rolling history ──
	sess.conv.RecordInbound(ev.ID, ev.Text, ev.Timestamp)

	trig := &Trigger{
		Kind:      TriggerUser,
		ChatID:    ev.ChatID,
		Payload:   ev.Text,
		History:   sess.conv.History(),
		IsTapback: isTapback,
	}

	// ── Step 7: typing on, plus an early ack for likely-slow questions ──
	g.startTyping(sess)
	if g.cfg.Gating.PreemptiveAck && !isTapback && looksLikeQuery(ev.Text) {
		g.sendAck(sess)
		trig.Acknowledged = true
	}

	g.runTrigger(sess, trig, log)
}

// processWorkerResult re-enters the orchestrator with a batch aggregate.
func (g *Gateway) processWorkerResult(sess *chatSession, aggregate string) {
	log := g.logger.With("chat", sess.conv.ChatID, "trigger", "worker_result")

	trig := &Trigger{
		Kind:         TriggerWorkerResult,
		ChatID:       sess.conv.ChatID,
		Payload:      aggregate,
		History:      sess.conv.History(),
		Acknowledged: true,
	}

	g.startTyping(sess)
	g.runTrigger(sess, trig, log)
}

// runTrigger invokes the orchestrator with panic containment and the typing
// stop guarantee on every return path.
func (g *Gateway) runTrigger(sess *chatSession, trig *Trigger, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator panicked", "panic", r)
			g.stopTyping(sess, true)
			return
		}
		g.stopTyping(sess, false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(g.cfg.Orchestrator.TriggerTimeoutSeconds)*time.Second)
	defer cancel()

	result := sess.orch.Run(ctx, trig)
	if !result.OK {
		log.Warn("interaction failed", "iterations", result.Iterations, "error", result.ErrorText)
	}
}

// startTyping turns the typing indicator on once per active stretch. A
// trigger arriving while typing is already live must not start it again.
func (g *Gateway) startTyping(sess *chatSession) {
	if sess.typingActive {
		return
	}
	if err := g.transport.StartTyping(context.Background(), sess.conv.ChatID); err != nil {
		g.logger.Debug("start typing failed", "chat", sess.conv.ChatID, "error", err)
	}
	sess.typingActive = true
}

// stopTyping turns the indicator off at trigger end. While a worker batch
// is still pending the stop is deferred to the worker_result trigger, so
// the user sees one continuous typing stretch per exchange. force skips the
// deferral after a panic.
func (g *Gateway) stopTyping(sess *chatSession, force bool) {
	if !sess.typingActive {
		return
	}
	if !force && sess.batch.PendingCount() > 0 {
		return
	}
	if err := g.transport.StopTyping(context.Background(), sess.conv.ChatID); err != nil {
		g.logger.Debug("stop typing failed", "chat", sess.conv.ChatID, "error", err)
	}
	sess.typingActive = false
}

// sendAck sends the brief "working on it" text and registers it for echo
// suppression.
func (g *Gateway) sendAck(sess *chatSession) {
	text := g.cfg.Gating.AckText
	if text == "" {
		return
	}
	if err := g.transport.SendText(context.Background(), sess.conv.ChatID, text); err != nil {
		g.logger.Debug("ack send failed", "chat", sess.conv.ChatID, "error", err)
		return
	}
	sess.conv.RecordOutbound(text, time.Now())
}

// sawMessageID records an inbound ID and reports whether it was already
// seen. Only the session goroutine touches the ring.
func (sess *chatSession) sawMessageID(id string) bool {
	if id == "" {
		return false
	}
	for _, seen := range sess.seenIDs {
		if seen == id {
			return true
		}
	}
	sess.seenIDs = append(sess.seenIDs, id)
	if len(sess.seenIDs) > seenIDCap {
		sess.seenIDs = sess.seenIDs[len(sess.seenIDs)-seenIDCap:]
	}
	return false
}

// queryPrefixes mark messages that likely need a slow lookup. The list is
// tuning, not contract.
var queryPrefixes = []string{
	"what", "who", "where", "when", "why", "how", "which",
	"is ", "are ", "can ", "could ", "do ", "does ", "did ",
	"search", "find", "look up", "check",
}

// looksLikeQuery reports whether text reads like a question worth a
// pre-emptive acknowledgment.
func looksLikeQuery(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.HasSuffix(t, "?") {
		return true
	}
	for _, p := range queryPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}
