package whatsapp

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestNew(t *testing.T) {
	w := New(DefaultConfig(), testLogger())
	if w == nil {
		t.Fatal("expected non-nil instance")
	}
	if w.Name() != "whatsapp" {
		t.Errorf("Name = %q", w.Name())
	}
	if w.IsConnected() {
		t.Error("expected disconnected before Connect")
	}
}

func TestParseJID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"full jid", "5511999998888@s.whatsapp.net", "5511999998888@s.whatsapp.net", false},
		{"bare number", "5511999998888", "5511999998888@s.whatsapp.net", false},
		{"formatted number", "+55 (11) 99999-8888", "5511999998888@s.whatsapp.net", false},
		{"group jid", "1234567890-1234@g.us", "1234567890-1234@g.us", false},
		{"too short", "12345", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, err := parseJID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseJID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && jid.String() != tt.want {
				t.Errorf("parseJID(%q) = %q, want %q", tt.in, jid.String(), tt.want)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{
			"conversation",
			&waE2E.Message{Conversation: proto.String("plain text")},
			"plain text",
		},
		{
			"extended text",
			&waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("with link preview")}},
			"with link preview",
		},
		{"no text content", &waE2E.Message{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractText(tt.msg); got != tt.want {
				t.Errorf("extractText = %q, want %q", got, tt.want)
			}
		})
	}
}

func messageEvent(chat types.JID, isGroup, fromMe bool, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     chat,
				Sender:   types.NewJID("5511999998888", types.DefaultUserServer),
				IsFromMe: fromMe,
				IsGroup:  isGroup,
			},
			ID:        "wa-msg-1",
			Timestamp: time.Now(),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func receiveOne(t *testing.T, w *WhatsApp) (msg struct {
	ok   bool
	text string
	self bool
}) {
	t.Helper()
	select {
	case m := <-w.Receive():
		msg.ok = true
		msg.text = m.Text
		msg.self = m.FromSelf
	case <-time.After(50 * time.Millisecond):
	}
	return msg
}

func TestHandleMessageFiltering(t *testing.T) {
	dm := types.NewJID("5511888887777", types.DefaultUserServer)
	group := types.JID{User: "1234567890-1234", Server: types.GroupServer}

	t.Run("dm accepted by default", func(t *testing.T) {
		w := New(DefaultConfig(), testLogger())
		w.handleMessageEvt(messageEvent(dm, false, false, "hello"))
		got := receiveOne(t, w)
		if !got.ok || got.text != "hello" {
			t.Errorf("expected dm to pass, got %+v", got)
		}
	})

	t.Run("group dropped by default", func(t *testing.T) {
		w := New(DefaultConfig(), testLogger())
		w.handleMessageEvt(messageEvent(group, true, false, "group chatter"))
		if got := receiveOne(t, w); got.ok {
			t.Errorf("expected group message dropped, got %+v", got)
		}
	})

	t.Run("group accepted when enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RespondToGroups = true
		w := New(cfg, testLogger())
		w.handleMessageEvt(messageEvent(group, true, false, "group chatter"))
		if got := receiveOne(t, w); !got.ok {
			t.Error("expected group message to pass")
		}
	})

	t.Run("own messages forwarded with FromSelf", func(t *testing.T) {
		w := New(DefaultConfig(), testLogger())
		w.handleMessageEvt(messageEvent(dm, false, true, "my own words"))
		got := receiveOne(t, w)
		if !got.ok || !got.self {
			t.Errorf("expected self message forwarded with FromSelf, got %+v", got)
		}
	})

	t.Run("allowed chats filter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AllowedChats = []string{"someone-else@s.whatsapp.net"}
		w := New(cfg, testLogger())
		w.handleMessageEvt(messageEvent(dm, false, false, "hello"))
		if got := receiveOne(t, w); got.ok {
			t.Errorf("expected chat outside allow-list dropped, got %+v", got)
		}
	})

	t.Run("empty text dropped", func(t *testing.T) {
		w := New(DefaultConfig(), testLogger())
		w.handleMessageEvt(messageEvent(dm, false, false, ""))
		if got := receiveOne(t, w); got.ok {
			t.Errorf("expected empty message dropped, got %+v", got)
		}
	})
}

func TestSendWhenDisconnected(t *testing.T) {
	w := New(DefaultConfig(), testLogger())
	ctx := context.Background()

	if err := w.SendText(ctx, "5511999998888", "hi"); err == nil {
		t.Error("SendText before Connect should fail")
	}
	if err := w.SendReaction(ctx, "5511999998888", "msg-1", "❤️"); err == nil {
		t.Error("SendReaction before Connect should fail")
	}
}
