// Package copilot – assistant.go is the composition root of the runtime:
// it owns the channel manager, the LLM client, the worker stack and the
// gateway, and pumps inbound messages between them.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/channels"
)

// Assistant wires every subsystem together for one process.
type Assistant struct {
	cfg    *Config
	logger *slog.Logger

	manager  *channels.Manager
	registry *Registry
	guard    *Guard
	composer *PromptComposer

	completer Completer
	store     *LogStore
	roster    *Roster
	runtime   *WorkerRuntime
	gateway   *Gateway

	// routes remembers which channel a chat id was last seen on.
	routesMu sync.RWMutex
	routes   map[string]string

	cancel  context.CancelFunc
	pumpWg  sync.WaitGroup
	started bool
}

// Option customizes assistant construction.
type Option func(*Assistant)

// WithCompleter replaces the Anthropic-backed completer, mainly for tests
// and the offline chat mode.
func WithCompleter(c Completer) Option {
	return func(a *Assistant) { a.completer = c }
}

// New creates the assistant. Channels are registered by the caller before
// Start; tools may be added via Tools().
func New(cfg *Config, logger *slog.Logger, opts ...Option) *Assistant {
	a := &Assistant{
		cfg:      cfg,
		logger:   logger,
		manager:  channels.NewManager(logger),
		registry: NewRegistry(),
		guard:    NewGuard(cfg.Guard, logger),
		composer: NewPromptComposer(cfg),
		routes:   make(map[string]string),
	}
	RegisterBuiltinTools(a.registry, cfg.Timezone)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ChannelManager exposes the channel manager for registration.
func (a *Assistant) ChannelManager() *channels.Manager { return a.manager }

// Tools exposes the worker tool registry for registration.
func (a *Assistant) Tools() *Registry { return a.registry }

// Start brings the runtime up: LLM client, stores, worker stack, gateway,
// channels, and the inbound pump.
func (a *Assistant) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("assistant already started")
	}

	ctx, a.cancel = context.WithCancel(ctx)

	if a.completer == nil {
		ResolveAPIKey(a.cfg, a.logger)
		client, err := NewLLMClient(a.cfg.LLM, a.logger)
		if err != nil {
			return fmt.Errorf("creating LLM client: %w", err)
		}
		a.completer = client
	}

	store, err := NewLogStore(a.cfg.Store.Path, a.logger)
	if err != nil {
		return fmt.Errorf("opening worker log store: %w", err)
	}
	a.store = store
	a.roster = NewRoster(store, a.logger)
	a.runtime = NewWorkerRuntime(a.completer, a.roster, a.registry, a.guard, a.composer,
		a.cfg.Orchestrator.MaxToolIterations, a.logger)
	a.gateway = NewGateway(a.cfg, a.completer, a.transport(), a.runtime, a.composer, a.logger)

	if err := a.manager.Start(ctx); err != nil {
		store.Close()
		return fmt.Errorf("starting channels: %w", err)
	}

	a.pumpWg.Add(1)
	go a.pump(ctx)

	a.pumpWg.Add(1)
	go a.pruneLoop(ctx)

	a.started = true
	a.logger.Info("assistant started", "name", a.cfg.Name, "model", a.cfg.LLM.Model)
	return nil
}

// Stop tears everything down in reverse construction order.
func (a *Assistant) Stop() {
	if !a.started {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.manager.Stop()
	a.pumpWg.Wait()
	a.gateway.Close()
	if a.store != nil {
		a.store.Close()
	}
	a.guard.Close()
	a.started = false
	a.logger.Info("assistant stopped")
}

// DeliverSystemText sends a system-originated text (reminders) straight to
// a chat, registering it for echo suppression.
func (a *Assistant) DeliverSystemText(chatID, text string) {
	if a.gateway == nil {
		return
	}
	a.gateway.DeliverSystemText(chatID, text)
}

// WorkerLog exposes the log store for CLI inspection commands.
func (a *Assistant) WorkerLog() *LogStore { return a.store }

// pump forwards channel messages into the gateway.
func (a *Assistant) pump(ctx context.Context) {
	defer a.pumpWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.manager.Messages():
			if !ok {
				return
			}
			a.routesMu.Lock()
			a.routes[msg.ChatID] = msg.Channel
			a.routesMu.Unlock()

			a.gateway.OnInbound(InboundEvent{
				ID:        msg.ID,
				ChatID:    msg.ChatID,
				FromSelf:  msg.FromSelf,
				Text:      msg.Text,
				Timestamp: msg.Timestamp,
			})
		}
	}
}

// pruneLoop trims the worker log off the hot path.
func (a *Assistant) pruneLoop(ctx context.Context) {
	defer a.pumpWg.Done()
	interval := time.Duration(a.cfg.Batch.PruneIntervalMinutes) * time.Minute
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.store.Prune(ctx, a.cfg.Batch.MaxEntriesPerWorker); err != nil {
				a.logger.Warn("worker log prune failed", "error", err)
			}
		}
	}
}

// transport builds the outbound record over the channel manager, routing
// each chat to the channel it was last seen on.
func (a *Assistant) transport() Transport {
	return Transport{
		SendText: func(ctx context.Context, chatID, text string) error {
			ch, err := a.route(chatID)
			if err != nil {
				return err
			}
			return ch.SendText(ctx, chatID, text)
		},
		SendReaction: func(ctx context.Context, chatID, targetMessageID, emoji string) error {
			ch, err := a.route(chatID)
			if err != nil {
				return err
			}
			return ch.SendReaction(ctx, chatID, targetMessageID, emoji)
		},
		StartTyping: func(ctx context.Context, chatID string) error {
			ch, err := a.route(chatID)
			if err != nil {
				return err
			}
			return ch.SetTyping(ctx, chatID, true)
		},
		StopTyping: func(ctx context.Context, chatID string) error {
			ch, err := a.route(chatID)
			if err != nil {
				return err
			}
			return ch.SetTyping(ctx, chatID, false)
		},
	}
}

// route resolves the channel a chat id belongs to.
func (a *Assistant) route(chatID string) (channels.Channel, error) {
	a.routesMu.RLock()
	name, ok := a.routes[chatID]
	a.routesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", channels.ErrUnknownChat, chatID)
	}
	ch, ok := a.manager.Channel(name)
	if !ok {
		return nil, fmt.Errorf("channel %q not registered", name)
	}
	return ch, nil
}
