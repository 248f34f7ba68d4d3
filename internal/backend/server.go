package backend

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

// NewHandler serves be over the JSON protocol HTTPClient speaks. The
// caller's UserHeader is passed to be through WithUser.
func NewHandler(be Backend, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{be: be, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathUpdates, h.updates)
	mux.HandleFunc("POST "+PathEvents, h.events)
	mux.HandleFunc("POST "+PathSend, h.send)
	mux.HandleFunc("POST "+PathRehydrate, h.rehydrate)
	mux.HandleFunc("POST "+PathEdit, h.message(func(ctx context.Context, mctx model.MessageContext, req MessageRequest) error {
		if req.Content == nil {
			return Rejected(ReasonInternal, "missing content")
		}
		return be.EditMessage(ctx, mctx, req.MessageID, *req.Content)
	}))
	mux.HandleFunc("POST "+PathDelete, h.message(func(ctx context.Context, mctx model.MessageContext, req MessageRequest) error {
		return be.DeleteMessage(ctx, mctx, req.MessageID)
	}))
	mux.HandleFunc("POST "+PathUndelete, h.message(func(ctx context.Context, mctx model.MessageContext, req MessageRequest) error {
		return be.UndeleteMessage(ctx, mctx, req.MessageID)
	}))
	mux.HandleFunc("POST "+PathReaction, h.message(func(ctx context.Context, mctx model.MessageContext, req MessageRequest) error {
		return be.ToggleReaction(ctx, mctx, req.MessageID, req.Emoji, req.Add)
	}))
	mux.HandleFunc("POST "+PathSettings, h.settings)
	return mux
}

type handler struct {
	be     Backend
	logger *zap.Logger
}

var errBadRequest = errors.New("bad request")

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) (context.Context, bool) {
	data, err := io.ReadAll(r.Body)
	if err == nil {
		err = sonnet.Unmarshal(data, v)
	}
	if err != nil {
		h.writeError(w, r, errBadRequest)
		return nil, false
	}
	return WithUser(r.Context(), r.Header.Get(UserHeader)), true
}

func (h *handler) write(w http.ResponseWriter, v any) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusBadGateway
	body := ErrorBody{Message: err.Error()}
	switch rej, ok := AsRejected(err); {
	case errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case ok && rej.Reason == ReasonInternal:
		code = http.StatusInternalServerError
		body = ErrorBody{Reason: rej.Reason, Message: rej.Message}
	case ok:
		code = http.StatusUnprocessableEntity
		body = ErrorBody{Reason: rej.Reason, Message: rej.Message}
	}
	h.logger.Debug("backend request failed", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	data, _ := sonnet.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func (h *handler) updates(w http.ResponseWriter, r *http.Request) {
	var req UpdatesRequest
	ctx, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	out, err := h.be.GetUpdates(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.write(w, out)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	var req WireFetchRequest
	ctx, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	mctx, err := model.ParseMessageContext(req.Context)
	if err != nil {
		h.writeError(w, r, errBadRequest)
		return
	}
	out, err := h.be.FetchEvents(ctx, FetchRequest{
		Context:           mctx,
		IndexRange:        req.IndexRange,
		StartIndex:        req.StartIndex,
		Ascending:         req.Ascending,
		MaxEvents:         req.MaxEvents,
		LatestKnownUpdate: req.LatestKnownUpdate,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.write(w, out)
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	var req WireSendRequest
	ctx, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	mctx, err := model.ParseMessageContext(req.Context)
	if err != nil {
		h.writeError(w, r, errBadRequest)
		return
	}
	out, err := h.be.SendMessage(ctx, SendRequest{Context: mctx, Event: req.Event, Preconditions: req.Preconditions})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.write(w, out)
}

func (h *handler) rehydrate(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	ctx, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	mctx, err := model.ParseMessageContext(req.Context)
	if err != nil || req.Event == nil {
		h.writeError(w, r, errBadRequest)
		return
	}
	out, err := h.be.RehydrateMessage(ctx, mctx, *req.Event)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.write(w, out)
}

func (h *handler) message(fn func(context.Context, model.MessageContext, MessageRequest) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		ctx, ok := h.decode(w, r, &req)
		if !ok {
			return
		}
		mctx, err := model.ParseMessageContext(req.Context)
		if err != nil {
			h.writeError(w, r, errBadRequest)
			return
		}
		if err := fn(ctx, mctx, req); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handler) settings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	ctx, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	chat, err := model.ParseChatID(req.Chat)
	if err != nil {
		h.writeError(w, r, errBadRequest)
		return
	}
	if err := h.be.UpdateChatSettings(ctx, chat, req.Settings); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
