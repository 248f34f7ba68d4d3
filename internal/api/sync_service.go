package api

import (
	"context"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SyncServer controls which contexts the engine keeps fresh.
type SyncServer interface {
	GetSyncStatus(context.Context, *Empty) (*SyncStatusResponse, error)
	OpenContext(context.Context, *ContextRequest) (*Empty, error)
	CloseContext(context.Context, *ContextRequest) (*Empty, error)
	LoadPrevious(context.Context, *ContextRequest) (*Empty, error)
	Refresh(context.Context, *Empty) (*Empty, error)
}

// SyncService implements SyncServer.
type SyncService struct {
	engine *sync.Engine
}

// NewSyncService creates a new sync service.
func NewSyncService(engine *sync.Engine) *SyncService {
	return &SyncService{engine: engine}
}

func (s *SyncService) GetSyncStatus(_ context.Context, _ *Empty) (*SyncStatusResponse, error) {
	resp := &SyncStatusResponse{
		Status:   string(s.engine.Status().Current()),
		Busy:     s.engine.Busy(),
		Contexts: []string{},
	}
	if at := s.engine.LastSynced(); !at.IsZero() {
		resp.LastSyncedUnixMs = at.UnixMilli()
	}
	for _, mctx := range s.engine.Contexts() {
		resp.Contexts = append(resp.Contexts, mctx.String())
		resp.Pending += len(s.engine.Queue().Entries(mctx))
	}
	return resp, nil
}

// OpenContext loads the latest page of a context if it is not resident yet
// and keeps polling it until CloseContext.
func (s *SyncService) OpenContext(ctx context.Context, req *ContextRequest) (*Empty, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	if !s.engine.Active(mctx) {
		if err := s.engine.LoadInitial(ctx, mctx); err != nil {
			return nil, statusError("load initial", err)
		}
	}
	s.engine.Open(mctx)
	return &Empty{}, nil
}

func (s *SyncService) CloseContext(_ context.Context, req *ContextRequest) (*Empty, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	s.engine.Close(mctx)
	return &Empty{}, nil
}

func (s *SyncService) LoadPrevious(ctx context.Context, req *ContextRequest) (*Empty, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	if err := s.engine.LoadPrevious(ctx, mctx); err != nil {
		return nil, statusError("load previous", err)
	}
	return &Empty{}, nil
}

// Refresh runs one get-updates round now instead of waiting for the poller.
func (s *SyncService) Refresh(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.engine.Poll(ctx); err != nil {
		return nil, statusError("get updates", err)
	}
	return &Empty{}, nil
}

// SyncServiceDesc describes SyncService for grpc.Server.RegisterService.
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SyncServiceName, "GetSyncStatus", SyncServer.GetSyncStatus),
		unary(SyncServiceName, "OpenContext", SyncServer.OpenContext),
		unary(SyncServiceName, "CloseContext", SyncServer.CloseContext),
		unary(SyncServiceName, "LoadPrevious", SyncServer.LoadPrevious),
		unary(SyncServiceName, "Refresh", SyncServer.Refresh),
	},
}

// RegisterSyncService registers srv on s.
func RegisterSyncService(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&SyncServiceDesc, srv)
}

func parseContext(s string) (model.MessageContext, error) {
	mctx, err := model.ParseMessageContext(s)
	if err != nil {
		return mctx, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	return mctx, nil
}

func parseChat(s string) (model.ChatID, error) {
	chat, err := model.ParseChatID(s)
	if err != nil {
		return chat, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	return chat, nil
}
