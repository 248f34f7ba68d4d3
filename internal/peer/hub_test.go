package peer

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	evt := msgEvent(3, "m3", "bob")
	in := Envelope{To: []string{"alice"}, Chat: testChat.String(), Message: &Message{
		Kind: MessageSent, From: "bob", Context: mainCtx.String(), Event: &evt, MessageID: "m3",
	}}
	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Message == nil || out.Message.Event == nil || out.Message.Event.Message.ID != "m3" {
		t.Fatalf("decoded = %+v", out)
	}
	mctx, err := out.Message.MessageContext()
	if err != nil || mctx != mainCtx {
		t.Errorf("context = %v, %v", mctx, err)
	}
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestHubRelaysBetweenWatchers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := NewWSTransport(url, "alice", zap.NewNop())
	bob := NewWSTransport(url, "bob", zap.NewNop())
	carol := NewWSTransport(url, "carol", zap.NewNop())
	for _, tr := range []*WSTransport{alice, bob, carol} {
		tr.Watch(testChat)
		go tr.Run(ctx)
	}
	// Dave watches an unrelated chat and must hear nothing.
	dave := NewWSTransport(url, "dave", zap.NewNop())
	dave.Watch(model.ChatID{Kind: model.Direct, ID: "elsewhere"})
	go dave.Run(ctx)

	hint := Typing(mainCtx, true)
	hint.From = "mallory"

	// Watches race the first send; keep sending until bob hears one.
	deadline := time.After(5 * time.Second)
	var got Message
	for received := false; !received; {
		_ = alice.Send(ctx, []string{"bob"}, hint)
		select {
		case got = <-bob.Inbound():
			received = true
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("timeout waiting for relayed hint")
		}
	}

	if got.Kind != TypingStarted || got.From != "alice" {
		t.Errorf("relayed = %+v, want typing from alice", got)
	}
	select {
	case m := <-carol.Inbound():
		t.Errorf("carol received %+v although only bob was addressed", m)
	case m := <-dave.Inbound():
		t.Errorf("dave received %+v for a chat he does not watch", m)
	case m := <-alice.Inbound():
		t.Errorf("alice received her own hint %+v", m)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-alice.Inbound():
		for ok {
			_, ok = <-alice.Inbound()
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel not closed after cancel")
	}
}

func TestSendWithoutConnection(t *testing.T) {
	tr := NewWSTransport("ws://127.0.0.1:1/relay", "alice", zap.NewNop())
	err := tr.Send(context.Background(), nil, Typing(mainCtx, true))
	if err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}
