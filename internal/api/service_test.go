package api

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/env"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/send"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var (
	testChat = model.ChatID{Kind: model.Group, ID: "g1"}
	mainCtx  = model.Main(testChat)
)

type harness struct {
	mem    *backend.Memory
	env    *env.Environment
	engine *sync.Engine
	client *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "chatsync-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{mem: backend.NewMemory("")}
	h.mem.DefaultUser = "me"
	h.mem.AddChat(model.ChatSummary{ID: testChat})
	for _, id := range []string{"b0", "b1", "b2"} {
		if _, err := h.mem.Post(mainCtx, "bob", id, model.Text("hello "+id)); err != nil {
			t.Fatal(err)
		}
	}

	b := bus.New()
	h.env = env.New(b)
	machine := status.NewMachine(b)
	h.engine = sync.NewEngine(h.mem, db, b, h.env, machine, zap.NewNop(), sync.Options{UserID: "me"})
	if err := h.engine.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	pipeline := send.New(h.engine, h.mem, db, h.env, b, zap.NewNop(), send.Options{})

	srv := grpc.NewServer()
	RegisterSessionService(srv, NewSessionService("test", machine, h.engine, h.env, b))
	RegisterSyncService(srv, NewSyncService(h.engine))
	RegisterChatService(srv, NewChatService(h.engine, pipeline, nil))
	RegisterMessageService(srv, NewMessageService(pipeline))

	socketPath := filepath.Join(tmpDir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	h.client, err = Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.client.Close() })
	return h
}

func TestStatusAndChats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Session != "test" || st.UserID != "me" || st.Status != string(status.Ready) || st.ChatCount != 1 {
		t.Errorf("status = %+v", st)
	}

	chats, err := h.client.ListChats(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats.Chats) != 1 || chats.Chats[0].Unread != 3 || chats.Chats[0].LatestMessage != "hello b2" {
		t.Errorf("chats = %+v", chats.Chats)
	}
}

func TestOpenSendAndTimeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.client.OpenContext(ctx, mainCtx.String()); err != nil {
		t.Fatalf("OpenContext error = %v", err)
	}
	defer func() { _ = h.client.CloseContext(ctx, mainCtx.String()) }()

	res, err := h.client.SendText(ctx, &SendTextRequest{Context: mainCtx.String(), Text: "hi all"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != string(send.Sent) || res.EventIndex != 3 {
		t.Fatalf("send = %+v", res)
	}

	tl, err := h.client.Timeline(ctx, mainCtx.String(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tl.Items) != 2 {
		t.Fatalf("items = %+v, want the newest 2", tl.Items)
	}
	last := tl.Items[1]
	if last.MessageID != res.MessageID || last.State != ItemConfirmed || last.Content == nil || last.Content.Text != "hi all" {
		t.Errorf("last item = %+v", last)
	}

	st, err := h.client.SendStatus(ctx, mainCtx.String(), res.MessageID)
	if err != nil || st.State != string(send.Confirmed) {
		t.Errorf("send status = %+v, %v", st, err)
	}

	react, err := h.client.React(ctx, mainCtx.String(), "b1", "🎉")
	if err != nil || !react.Added {
		t.Errorf("react = %+v, %v", react, err)
	}

	ss, err := h.client.SyncStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ss.Contexts) != 1 || ss.Contexts[0] != mainCtx.String() {
		t.Errorf("sync contexts = %v", ss.Contexts)
	}
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"bad context", func() error {
			_, err := h.client.Timeline(ctx, "nonsense", 0)
			return err
		}, codes.InvalidArgument},
		{"empty text", func() error {
			_, err := h.client.SendText(ctx, &SendTextRequest{Context: mainCtx.String()})
			return err
		}, codes.InvalidArgument},
		{"unknown message", func() error {
			return h.client.Edit(ctx, mainCtx.String(), "nope", "x")
		}, codes.NotFound},
		{"unknown send", func() error {
			_, err := h.client.SendStatus(ctx, mainCtx.String(), "nope")
			return err
		}, codes.NotFound},
		{"no relay", func() error {
			return h.client.SetTyping(ctx, mainCtx.String(), true)
		}, codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if got := grpcstatus.Code(err); got != tt.want {
				t.Errorf("code = %v (%v), want %v", got, err, tt.want)
			}
		})
	}
	if !IsNotFound(h.client.Edit(ctx, mainCtx.String(), "nope", "x")) {
		t.Error("IsNotFound = false for unknown message")
	}
}

func TestWatchStreamsEnvChanges(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := h.client.Watch(ctx, string(bus.EnvChanged))
	if err != nil {
		t.Fatal(err)
	}

	// The subscription races the first toggle; keep toggling until one lands.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for bg := true; ; bg = !bg {
			select {
			case <-ticker.C:
				_, _ = h.client.SetEnv(ctx, &EnvRequest{Background: &bg})
			case <-done:
				return
			}
		}
	}()

	got := make(chan *WatchEvent, 1)
	go func() {
		if evt, err := stream.Recv(); err == nil {
			got <- evt
		}
	}()
	select {
	case evt := <-got:
		if evt.Kind != string(bus.EnvChanged) || evt.Session != "test" || evt.ID == "" {
			t.Errorf("event = %+v", evt)
		}
		payload, ok := evt.Payload.(map[string]any)
		if !ok {
			t.Fatalf("payload = %T, want object", evt.Payload)
		}
		if _, ok := payload["Background"]; !ok {
			t.Errorf("payload = %v, want Background field", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for watched event")
	}
}
