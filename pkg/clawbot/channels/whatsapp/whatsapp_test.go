package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/clawbot/pkg/clawbot/channels"
)

func info(chat, sender types.JID) types.MessageInfo {
	return types.MessageInfo{
		MessageSource: types.MessageSource{Chat: chat, Sender: sender, IsGroup: chat.Server == types.GroupServer},
		ID:            "3EB0ABC",
		PushName:      "Ana",
		Timestamp:     time.Unix(1710410400, 0),
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()
	phone := types.NewJID("5511999990000", types.DefaultUserServer)
	group := types.NewJID("120363000000000000", types.GroupServer)
	lid := types.NewJID("987654321", types.HiddenUserServer)

	msg := convert(info(phone, phone), textMessage("  add milk to my shopping list "))
	if msg == nil {
		t.Fatal("direct message dropped")
	}
	if msg.UserID() != "whatsapp:5511999990000" || msg.ChatID != "5511999990000@s.whatsapp.net" ||
		msg.Content != "add milk to my shopping list" || msg.FromName != "Ana" || msg.IsGroup || msg.ID != "3EB0ABC" {
		t.Errorf("direct = %+v", msg)
	}

	msg = convert(info(group, lid), &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hello")}})
	if msg == nil || !msg.IsGroup || msg.From != "987654321@lid" || msg.ChatID != group.String() || msg.Content != "hello" {
		t.Errorf("group = %+v", msg)
	}

	own := info(phone, phone)
	own.IsFromMe = true
	status := info(types.StatusBroadcastJID, phone)
	tests := []struct {
		name string
		info types.MessageInfo
		msg  *waE2E.Message
	}{
		{"own message", own, textMessage("x")},
		{"status broadcast", status, textMessage("x")},
		{"no content", info(phone, phone), nil},
		{"blank text", info(phone, phone), textMessage("   ")},
	}
	for _, tt := range tests {
		if got := convert(tt.info, tt.msg); got != nil {
			t.Errorf("%s: converted to %+v", tt.name, got)
		}
	}
}

func TestMessageTextCaption(t *testing.T) {
	t.Parallel()
	m := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("receipt")}}
	if got := messageText(m); got != "receipt" {
		t.Errorf("messageText = %q", got)
	}
}

func TestParseJID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511999990000", "5511999990000@s.whatsapp.net", false},
		{"+55 (11) 99999-0000", "5511999990000@s.whatsapp.net", false},
		{"120363000000000000@g.us", "120363000000000000@g.us", false},
		{"987654321@lid", "987654321@lid", false},
		{"12345", "", true},
		{"  ", "", true},
	}
	for _, tt := range tests {
		jid, err := parseJID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseJID(%q) = %v, want error", tt.in, jid)
			}
			continue
		}
		if err != nil || jid.String() != tt.want {
			t.Errorf("parseJID(%q) = %v, %v; want %s", tt.in, jid, err, tt.want)
		}
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	t.Parallel()
	w := New(Config{SessionPath: t.TempDir() + "/wa.db"}, nil)
	if w.Name() != "whatsapp" || w.IsConnected() {
		t.Fatal("fresh channel reports connected")
	}
	if err := w.Send(context.Background(), "5511999990000", "hi"); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("Send err = %v", err)
	}
	if err := w.Disconnect(); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
}
