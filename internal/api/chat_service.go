package api

import (
	"context"

	"github.com/matheus3301/chatsync/internal/peer"
	"github.com/matheus3301/chatsync/internal/send"
	"github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ChatServer serves chat lists, timelines and per-chat settings.
type ChatServer interface {
	ListChats(context.Context, *ListChatsRequest) (*ListChatsResponse, error)
	GetTimeline(context.Context, *TimelineRequest) (*TimelineResponse, error)
	UpdateSettings(context.Context, *SettingsRequest) (*Empty, error)
	SetTyping(context.Context, *TypingRequest) (*Empty, error)
	GetReadReceipts(context.Context, *ReadReceiptsRequest) (*ReadReceiptsResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*Empty, error)
}

// ChatService implements ChatServer. bridge may be nil when no relay is
// configured.
type ChatService struct {
	engine   *sync.Engine
	pipeline *send.Pipeline
	bridge   *peer.Bridge
}

// NewChatService creates a new chat service.
func NewChatService(engine *sync.Engine, pipeline *send.Pipeline, bridge *peer.Bridge) *ChatService {
	return &ChatService{engine: engine, pipeline: pipeline, bridge: bridge}
}

func (s *ChatService) ListChats(_ context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	resp := &ListChatsResponse{Chats: []ChatSummary{}}
	for _, sum := range s.engine.ChatSummaries() {
		if req.Chat != "" && sum.ID.String() != req.Chat {
			continue
		}
		resp.Chats = append(resp.Chats, ChatSummary{
			Chat:          sum.ID.String(),
			Unread:        s.engine.UnreadCount(sum.ID),
			LatestMessage: preview(sum.LatestMessage),
			LastUpdated:   sum.LastUpdated,
			Muted:         sum.Muted,
			Archived:      sum.Archived,
			Pinned:        sum.Pinned,
			Frozen:        sum.Frozen,
			RulesPending:  sum.Rules.NeedsAcceptance(),
		})
	}
	return resp, nil
}

func (s *ChatService) GetTimeline(_ context.Context, req *TimelineRequest) (*TimelineResponse, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	items := s.engine.Timeline(mctx)
	if req.Limit > 0 && len(items) > req.Limit {
		items = items[len(items)-req.Limit:]
	}
	resp := &TimelineResponse{Context: mctx.String(), Items: make([]TimelineItem, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, itemToWire(it))
	}
	if s.bridge != nil {
		resp.Typing = s.bridge.Typing(mctx)
	}
	return resp, nil
}

func (s *ChatService) UpdateSettings(ctx context.Context, req *SettingsRequest) (*Empty, error) {
	chat, err := parseChat(req.Chat)
	if err != nil {
		return nil, err
	}
	if req.Muted != nil {
		if err := s.pipeline.SetMuted(ctx, chat, *req.Muted); err != nil {
			return nil, statusError("set muted", err)
		}
	}
	if req.Archived != nil {
		if err := s.pipeline.SetArchived(ctx, chat, *req.Archived); err != nil {
			return nil, statusError("set archived", err)
		}
	}
	if req.Pinned != nil {
		if err := s.pipeline.SetPinned(ctx, chat, *req.Pinned); err != nil {
			return nil, statusError("set pinned", err)
		}
	}
	return &Empty{}, nil
}

func (s *ChatService) SetTyping(ctx context.Context, req *TypingRequest) (*Empty, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	if s.bridge == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "peer relay not configured")
	}
	if err := s.bridge.Broadcast(ctx, peer.Typing(mctx, req.Active)); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "broadcast typing: %v", err)
	}
	return &Empty{}, nil
}

func (s *ChatService) GetReadReceipts(_ context.Context, req *ReadReceiptsRequest) (*ReadReceiptsResponse, error) {
	chat, err := parseChat(req.Chat)
	if err != nil {
		return nil, err
	}
	resp := &ReadReceiptsResponse{ReadBy: map[string]int{}}
	if s.bridge != nil {
		resp.ReadBy = s.bridge.ReadBy(chat)
	}
	return resp, nil
}

// MarkRead raises the local read position and tells peers about it. A
// negative index means "everything loaded so far".
func (s *ChatService) MarkRead(ctx context.Context, req *MarkReadRequest) (*Empty, error) {
	chat, err := parseChat(req.Chat)
	if err != nil {
		return nil, err
	}
	idx := req.MessageIndex
	if idx < 0 {
		sum, ok := s.engine.Summary(chat)
		if !ok {
			return nil, statusError("mark read", send.ErrUnknownChat)
		}
		idx = sum.LatestMessageIndex
	}
	s.engine.MarkRead(chat, idx)
	if s.bridge != nil {
		_ = s.bridge.Broadcast(ctx, peer.Read(chat, idx))
	}
	return &Empty{}, nil
}

// ChatServiceDesc describes ChatService for grpc.Server.RegisterService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "ListChats", ChatServer.ListChats),
		unary(ChatServiceName, "GetTimeline", ChatServer.GetTimeline),
		unary(ChatServiceName, "UpdateSettings", ChatServer.UpdateSettings),
		unary(ChatServiceName, "SetTyping", ChatServer.SetTyping),
		unary(ChatServiceName, "GetReadReceipts", ChatServer.GetReadReceipts),
		unary(ChatServiceName, "MarkRead", ChatServer.MarkRead),
	},
}

// RegisterChatService registers srv on s.
func RegisterChatService(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}
