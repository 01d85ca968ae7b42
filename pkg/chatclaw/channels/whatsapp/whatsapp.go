// Package whatsapp implements the WhatsApp channel on top of whatsmeow.
// Session state lives in a SQLite store; first login renders a QR code in
// the terminal for pairing.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/channels"
)

// Config holds the WhatsApp channel settings.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// StorePath is the SQLite file holding the whatsmeow session.
	StorePath string `yaml:"store_path"`

	// DeviceName appears in the WhatsApp linked-devices list.
	DeviceName string `yaml:"device_name"`

	// RespondToGroups / RespondToDMs filter which chats are forwarded.
	RespondToGroups bool `yaml:"respond_to_groups"`
	RespondToDMs    bool `yaml:"respond_to_dms"`

	// AllowedChats restricts forwarding to these chat JIDs when non-empty.
	AllowedChats []string `yaml:"allowed_chats,omitempty"`
}

// DefaultConfig returns the default WhatsApp settings.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		StorePath:       "./data/whatsapp.db",
		DeviceName:      "ChatClaw",
		RespondToGroups: false,
		RespondToDMs:    true,
	}
}

// WhatsApp is the whatsmeow-backed channel.
type WhatsApp struct {
	cfg    Config
	logger *slog.Logger

	client    *whatsmeow.Client
	messages  chan channels.InboundMessage
	connected atomic.Bool
	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates the channel. Connect does the heavy lifting.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	return &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan channels.InboundMessage, 64),
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect opens the session store, restores or pairs the device, and starts
// the event stream.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	if err := os.MkdirAll(filepath.Dir(w.cfg.StorePath), 0o755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.StorePath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}
	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		// First login: pair via QR before connecting the event stream.
		if err := w.loginWithQR(w.ctx); err != nil {
			return fmt.Errorf("QR login: %w", err)
		}
	} else {
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("connecting: %w", err)
		}
		w.logger.Info("connected with existing session", "jid", w.client.Store.ID.String())
	}

	w.connected.Store(true)
	return nil
}

// Disconnect closes the connection and the inbound stream.
func (w *WhatsApp) Disconnect() error {
	w.connected.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	if w.closed.CompareAndSwap(false, true) {
		close(w.messages)
	}
	w.logger.Info("disconnected")
	return nil
}

func (w *WhatsApp) Receive() <-chan channels.InboundMessage { return w.messages }

func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// SendText delivers one text message.
func (w *WhatsApp) SendText(ctx context.Context, chatID, text string) error {
	if !w.connected.Load() {
		return channels.ErrDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", chatID, err)
	}
	_, err = w.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// SendReaction attaches an emoji reaction to a message in the chat.
func (w *WhatsApp) SendReaction(ctx context.Context, chatID, targetMessageID, emoji string) error {
	if !w.connected.Load() {
		return channels.ErrDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	waMsg := w.client.BuildReaction(jid, jid, types.MessageID(targetMessageID), emoji)
	_, err = w.client.SendMessage(ctx, jid, waMsg)
	return err
}

// SetTyping toggles the composing presence. Failures are the caller's to
// log; the indicator is best effort.
func (w *WhatsApp) SetTyping(ctx context.Context, chatID string, typing bool) error {
	if !w.connected.Load() {
		return channels.ErrDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	state := types.ChatPresenceComposing
	if !typing {
		state = types.ChatPresencePaused
	}
	return w.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// handleEvent converts whatsmeow events into the neutral inbound shape.
// Self messages are forwarded with FromSelf set; the core decides whether
// they are echoes.
func (w *WhatsApp) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Message:
		w.handleMessageEvt(e)
	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("stream connected")
	case *events.Disconnected:
		w.logger.Warn("stream disconnected")
	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Warn("logged out, re-pairing required")
	}
}

func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.Chat.Server == "broadcast" {
		return
	}
	if evt.Info.IsGroup && !w.cfg.RespondToGroups {
		return
	}
	if !evt.Info.IsGroup && !w.cfg.RespondToDMs {
		return
	}

	chatID := evt.Info.Chat.String()
	if len(w.cfg.AllowedChats) > 0 && !contains(w.cfg.AllowedChats, chatID) {
		return
	}

	text := extractText(evt.Message)
	if text == "" {
		return
	}

	msg := channels.InboundMessage{
		ID:        string(evt.Info.ID),
		Channel:   w.Name(),
		ChatID:    chatID,
		From:      evt.Info.Sender.String(),
		FromSelf:  evt.Info.IsFromMe,
		Text:      text,
		Timestamp: evt.Info.Timestamp,
	}

	select {
	case w.messages <- msg:
	default:
		w.logger.Warn("inbound buffer full, dropping message", "chat", chatID)
	}
}

// getDevice returns the stored device or creates a fresh one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR runs the terminal pairing flow and blocks until it resolves.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	w.logger.Info("scan the QR code with WhatsApp to link this device")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			case "success":
				w.logger.Info("login successful")
				return nil
			case "timeout":
				return fmt.Errorf("QR pairing timed out")
			}
		}
	}
}

// extractText pulls the text content out of a message, if any.
func extractText(waMsg *waE2E.Message) string {
	if waMsg == nil {
		return ""
	}
	if t := waMsg.GetConversation(); t != "" {
		return t
	}
	if ext := waMsg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

// parseJID converts a string JID to types.JID. Accepts a full JID like
// "5511999999999@s.whatsapp.net" or a bare phone number.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
