package backend

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

func memoryWithHistory(t *testing.T, n int) *Memory {
	t.Helper()
	m := NewMemory("1234")
	m.AddChat(model.ChatSummary{ID: testCtx.Chat})
	for i := 0; i < n; i++ {
		if _, err := m.Post(testCtx, "bob", "b"+string(rune('a'+i)), model.Text("hi")); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func msg(id string, content model.Content) model.Event {
	return model.Event{Index: 99, Kind: model.KindMessage, Message: &model.Message{Index: 99, ID: id, Sender: "me", Content: content}}
}

func TestMemoryPagesBothWays(t *testing.T) {
	m := memoryWithHistory(t, 10)
	ctx := context.Background()

	latest, err := m.FetchEvents(ctx, FetchRequest{Context: testCtx, StartIndex: -1, MaxEvents: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(latest.Events) != 4 || latest.Events[0].Index != 6 || latest.Events[3].Index != 9 {
		t.Errorf("latest page = %v", indices(latest.Events))
	}
	older, _ := m.FetchEvents(ctx, FetchRequest{Context: testCtx, StartIndex: 5, MaxEvents: 4})
	if got := indices(older.Events); len(got) != 4 || got[0] != 2 || got[3] != 5 {
		t.Errorf("older page = %v", got)
	}
	newer, _ := m.FetchEvents(ctx, FetchRequest{Context: testCtx, StartIndex: 8, Ascending: true, MaxEvents: 4})
	if got := indices(newer.Events); len(got) != 2 || got[0] != 8 {
		t.Errorf("newer page = %v", got)
	}
}

func indices(evts []model.Event) []int {
	out := make([]int, len(evts))
	for i, e := range evts {
		out[i] = e.Index
	}
	return out
}

func TestMemorySendAssignsIndicesOnce(t *testing.T) {
	m := memoryWithHistory(t, 3)
	ctx := WithUser(context.Background(), "alice")

	accepted := 0
	resp, err := m.SendMessage(ctx, SendRequest{Context: testCtx, Event: msg("x1", model.Text("yo")), OnAccepted: func() { accepted++ }})
	if err != nil {
		t.Fatal(err)
	}
	if resp.EventIndex != 3 || resp.MessageIndex != 3 || accepted != 1 {
		t.Errorf("resp = %+v, accepted %d", resp, accepted)
	}
	again, err := m.SendMessage(ctx, SendRequest{Context: testCtx, Event: msg("x1", model.Text("yo"))})
	if err != nil || again.EventIndex != 3 {
		t.Errorf("resend = %+v, %v; want the stored index", again, err)
	}

	upd, _ := m.GetUpdates(ctx, UpdatesRequest{Initial: true})
	if len(upd.Chats) != 1 || upd.Chats[0].LatestEventIndex != 3 || upd.Chats[0].LatestMessage.Message.Sender != "alice" {
		t.Errorf("summary = %+v", upd.Chats)
	}
	none, _ := m.GetUpdates(ctx, UpdatesRequest{Since: upd.Timestamp})
	if len(none.Chats) != 0 {
		t.Errorf("updates since %d = %d chats, want 0", upd.Timestamp, len(none.Chats))
	}
}

func TestMemoryGates(t *testing.T) {
	ctx := context.Background()
	transfer := model.Content{Kind: model.ContentTransfer, Transfer: &model.Transfer{Token: "usd", Amount: 1}}

	tests := []struct {
		name    string
		summary model.ChatSummary
		event   model.Event
		pre     Preconditions
		want    Reason
	}{
		{"frozen", model.ChatSummary{ID: testCtx.Chat, Frozen: true}, msg("a", model.Text("x")), Preconditions{}, ReasonFrozen},
		{"rules", model.ChatSummary{ID: testCtx.Chat, Rules: model.Rules{Enabled: true, Version: 2}}, msg("a", model.Text("x")), Preconditions{RulesAccepted: 1}, ReasonRulesNotAccepted},
		{"rules accepted", model.ChatSummary{ID: testCtx.Chat, Rules: model.Rules{Enabled: true, Version: 2}}, msg("a", model.Text("x")), Preconditions{RulesAccepted: 2}, ""},
		{"pin missing", model.ChatSummary{ID: testCtx.Chat}, msg("a", transfer), Preconditions{}, ReasonPINRequired},
		{"pin wrong", model.ChatSummary{ID: testCtx.Chat}, msg("a", transfer), Preconditions{PIN: "0000"}, ReasonPINIncorrect},
		{"pin right", model.ChatSummary{ID: testCtx.Chat}, msg("a", transfer), Preconditions{PIN: "1234"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory("1234")
			m.AddChat(tt.summary)
			_, err := m.SendMessage(ctx, SendRequest{Context: testCtx, Event: tt.event, Preconditions: tt.pre})
			if tt.want == "" {
				if err != nil {
					t.Fatalf("err = %v, want success", err)
				}
				return
			}
			rej, ok := AsRejected(err)
			if !ok || rej.Reason != tt.want {
				t.Errorf("err = %v, want %s", err, tt.want)
			}
		})
	}
}

// TestHTTPRoundTrip drives Memory through NewHandler and HTTPClient.
func TestHTTPRoundTrip(t *testing.T) {
	m := memoryWithHistory(t, 5)
	srv := httptest.NewServer(NewHandler(m, zap.NewNop()))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "alice", 0, zap.NewNop())
	ctx := context.Background()

	page, err := c.FetchEvents(ctx, FetchRequest{Context: testCtx, StartIndex: -1, MaxEvents: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Events) != 5 {
		t.Fatalf("events = %d, want 5", len(page.Events))
	}
	target := page.Events[2].MessageID()

	if err := c.ToggleReaction(ctx, testCtx, target, "👍", true); err != nil {
		t.Fatal(err)
	}
	if err := c.EditMessage(ctx, testCtx, target, model.Text("edited")); err != nil {
		t.Fatal(err)
	}
	full, err := c.RehydrateMessage(ctx, testCtx, page.Events[2])
	if err != nil {
		t.Fatal(err)
	}
	if !full.Message.HasReaction("👍", "alice") || !full.Message.Edited || full.Message.Content.Text != "edited" {
		t.Errorf("message after intents = %+v", full.Message)
	}

	err = c.DeleteMessage(ctx, testCtx, "missing")
	if rej, ok := AsRejected(err); !ok || rej.Reason != ReasonMessageNotFound {
		t.Errorf("delete missing = %v, want message_not_found", err)
	}

	m.FailFetches(errors.New("disk on fire"))
	if _, err := c.FetchEvents(ctx, FetchRequest{Context: testCtx}); !errors.Is(err, ErrEventsFailed) {
		t.Errorf("failing fetch = %v, want ErrEventsFailed", err)
	}

	m.FailSends(Rejected(ReasonInternal, "try later"))
	_, err = c.SendMessage(ctx, SendRequest{Context: testCtx, Event: msg("n1", model.Text("x"))})
	if rej, ok := AsRejected(err); !ok || !rej.Reason.Retryable() {
		t.Errorf("send = %v, want retryable rejection", err)
	}
}
