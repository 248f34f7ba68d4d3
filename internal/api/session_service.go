package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/env"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionServer is the daemon-level service: status, environment and the
// event stream.
type SessionServer interface {
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	SetEnv(context.Context, *EnvRequest) (*EnvResponse, error)
	WatchEvents(*WatchRequest, WatchStream) error
}

// WatchStream is the server side of a WatchEvents call.
type WatchStream interface {
	Send(*WatchEvent) error
	Context() context.Context
}

// SessionService implements SessionServer.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	engine      *sync.Engine
	env         *env.Environment
	bus         *bus.Bus
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, machine *status.Machine, engine *sync.Engine, e *env.Environment, b *bus.Bus) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		engine:      engine,
		env:         e,
		bus:         b,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *Empty) (*StatusResponse, error) {
	resp := &StatusResponse{
		Session:  s.sessionName,
		Status:   string(s.machine.Current()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.engine != nil {
		resp.UserID = s.engine.UserID()
		resp.ChatCount = len(s.engine.ChatSummaries())
	}
	if s.env != nil {
		st := s.env.State()
		resp.Background = st.Background
		resp.Offline = st.Offline
	}
	return resp, nil
}

func (s *SessionService) SetEnv(_ context.Context, req *EnvRequest) (*EnvResponse, error) {
	if req.Background != nil {
		s.env.SetBackground(*req.Background)
	}
	if req.Offline != nil {
		s.env.SetOffline(*req.Offline)
	}
	st := s.env.State()
	return &EnvResponse{Background: st.Background, Offline: st.Offline}, nil
}

func (s *SessionService) WatchEvents(req *WatchRequest, stream WatchStream) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if err := stream.Send(&WatchEvent{
				ID:               uuid.NewString(),
				Session:          s.sessionName,
				Kind:             string(evt.Kind),
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          evt.Payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// SessionServiceDesc describes SessionService for grpc.Server.RegisterService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServer.GetStatus),
		unary(SessionServiceName, "SetEnv", SessionServer.SetEnv),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "WatchEvents",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			var req WatchRequest
			if err := fromStruct(in, &req); err != nil {
				return err
			}
			return srv.(SessionServer).WatchEvents(&req, &watchServer{stream})
		},
	}},
}

type watchServer struct {
	grpc.ServerStream
}

func (w *watchServer) Send(evt *WatchEvent) error {
	out, err := toStruct(evt)
	if err != nil {
		return err
	}
	return w.SendMsg(out)
}

// RegisterSessionService registers srv on s.
func RegisterSessionService(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

func watchPath() string {
	return "/" + SessionServiceName + "/" + SessionServiceDesc.Streams[0].StreamName
}

