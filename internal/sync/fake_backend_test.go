package sync

import (
	"context"
	"errors"
	"slices"
	stdsync "sync"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/model"
)

// fakeBackend serves pages from an in-memory server timeline.
type fakeBackend struct {
	mu       stdsync.Mutex
	events   map[model.MessageContext][]model.Event
	expired  map[model.MessageContext][]model.Range
	updates  []*backend.Updates
	fail     bool
	fetches  []backend.FetchRequest
	rehydr   int
	block    chan struct{} // when set, FetchEvents waits on it
	entered  chan struct{}
	fullText map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events:   make(map[model.MessageContext][]model.Event),
		expired:  make(map[model.MessageContext][]model.Range),
		fullText: make(map[string]string),
	}
}

func (f *fakeBackend) put(mctx model.MessageContext, evts ...model.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[mctx] = append(f.events[mctx], evts...)
	slices.SortFunc(f.events[mctx], func(a, b model.Event) int { return a.Index - b.Index })
}

func (f *fakeBackend) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeBackend) GetUpdates(_ context.Context, req backend.UpdatesRequest) (*backend.Updates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("network down")
	}
	if len(f.updates) == 0 {
		return &backend.Updates{Timestamp: req.Since}, nil
	}
	u := f.updates[0]
	f.updates = f.updates[1:]
	return u, nil
}

func (f *fakeBackend) FetchEvents(ctx context.Context, req backend.FetchRequest) (*backend.EventsPage, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, req)
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, backend.ErrEventsFailed
	}
	all := f.events[req.Context]
	start := req.StartIndex
	if start < 0 && len(all) > 0 {
		start = all[len(all)-1].Index
	}
	var page []model.Event
	if req.Ascending {
		for _, evt := range all {
			if evt.Index >= start && len(page) < req.MaxEvents {
				page = append(page, evt.Clone())
			}
		}
	} else {
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].Index <= start && len(page) < req.MaxEvents {
				page = append(page, all[i].Clone())
			}
		}
		slices.Reverse(page)
	}
	return &backend.EventsPage{Events: page, ExpiredRanges: slices.Clone(f.expired[req.Context])}, nil
}

func (f *fakeBackend) SendMessage(context.Context, backend.SendRequest) (*backend.SendResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) RehydrateMessage(_ context.Context, _ model.MessageContext, evt model.Event) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rehydr++
	text, ok := f.fullText[evt.MessageID()]
	if !ok {
		return evt, errors.New("not found")
	}
	full := evt.Clone()
	full.Message.Partial = false
	full.Message.Content = model.Text(text)
	return full, nil
}

func (f *fakeBackend) EditMessage(context.Context, model.MessageContext, string, model.Content) error {
	return nil
}

func (f *fakeBackend) DeleteMessage(context.Context, model.MessageContext, string) error { return nil }

func (f *fakeBackend) UndeleteMessage(context.Context, model.MessageContext, string) error { return nil }

func (f *fakeBackend) ToggleReaction(context.Context, model.MessageContext, string, string, bool) error {
	return nil
}

func (f *fakeBackend) UpdateChatSettings(context.Context, model.ChatID, backend.ChatSettings) error {
	return nil
}
