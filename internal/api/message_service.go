package api

import (
	"context"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/send"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// MessageServer exposes the send pipeline and message intents.
type MessageServer interface {
	SendText(context.Context, *SendTextRequest) (*SendResponse, error)
	SendTransfer(context.Context, *SendTransferRequest) (*SendResponse, error)
	RetrySend(context.Context, *RetryRequest) (*SendResponse, error)
	GetSendStatus(context.Context, *MessageRequest) (*SendStatusResponse, error)
	ListFailed(context.Context, *ContextRequest) (*ListFailedResponse, error)
	EditMessage(context.Context, *EditRequest) (*Empty, error)
	DeleteMessage(context.Context, *DeleteRequest) (*Empty, error)
	ToggleReaction(context.Context, *ReactionRequest) (*ReactionResponse, error)
}

// MessageService implements MessageServer.
type MessageService struct {
	pipeline *send.Pipeline
}

// NewMessageService creates a new message service.
func NewMessageService(pipeline *send.Pipeline) *MessageService {
	return &MessageService{pipeline: pipeline}
}

// gates carries the answers a remote caller gave up front. A send that hits
// a gate the caller did not answer ends cancelled.
func gates(ctx context.Context, acceptRules bool, pin string) context.Context {
	return send.WithPrompter(ctx, send.StaticPrompter{Rules: acceptRules, PIN: pin})
}

func (s *MessageService) SendText(ctx context.Context, req *SendTextRequest) (*SendResponse, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "empty text")
	}
	res, err := s.pipeline.SendText(gates(ctx, req.AcceptRules, req.PIN), mctx, req.Text)
	if err != nil {
		return nil, statusError("send text", err)
	}
	return resultToWire(res), nil
}

func (s *MessageService) SendTransfer(ctx context.Context, req *SendTransferRequest) (*SendResponse, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	if req.Amount == 0 || req.Token == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "transfer needs a token and a positive amount")
	}
	t := model.Transfer{Token: req.Token, Amount: req.Amount, Recipient: req.Recipient}
	res, err := s.pipeline.SendTransfer(gates(ctx, req.AcceptRules, req.PIN), mctx, t)
	if err != nil {
		return nil, statusError("send transfer", err)
	}
	return resultToWire(res), nil
}

func (s *MessageService) RetrySend(ctx context.Context, req *RetryRequest) (*SendResponse, error) {
	res, err := s.pipeline.RetryFailedSend(gates(ctx, req.AcceptRules, req.PIN), req.MessageID)
	if err != nil {
		return nil, statusError("retry", err)
	}
	return resultToWire(res), nil
}

func (s *MessageService) GetSendStatus(_ context.Context, req *MessageRequest) (*SendStatusResponse, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	st, err := s.pipeline.Status(mctx, req.MessageID)
	if err != nil {
		return nil, statusError("send status", err)
	}
	return &SendStatusResponse{MessageID: req.MessageID, State: string(st)}, nil
}

func (s *MessageService) ListFailed(_ context.Context, req *ContextRequest) (*ListFailedResponse, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	failed, err := s.pipeline.Failed(mctx)
	if err != nil {
		return nil, statusError("list failed", err)
	}
	resp := &ListFailedResponse{Messages: make([]FailedMessage, 0, len(failed))}
	for _, f := range failed {
		resp.Messages = append(resp.Messages, FailedMessage{
			MessageID:      f.MessageID,
			Reason:         f.Reason,
			FailedAtUnixMs: f.FailedAt,
			Text:           preview(&f.Event),
		})
	}
	return resp, nil
}

func (s *MessageService) EditMessage(ctx context.Context, req *EditRequest) (*Empty, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	if err := s.pipeline.EditMessage(ctx, mctx, req.MessageID, req.Text); err != nil {
		return nil, statusError("edit", err)
	}
	return &Empty{}, nil
}

func (s *MessageService) DeleteMessage(ctx context.Context, req *DeleteRequest) (*Empty, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	if req.Undelete {
		err = s.pipeline.UndeleteMessage(ctx, mctx, req.MessageID)
	} else {
		err = s.pipeline.DeleteMessage(ctx, mctx, req.MessageID)
	}
	if err != nil {
		return nil, statusError("delete", err)
	}
	return &Empty{}, nil
}

func (s *MessageService) ToggleReaction(ctx context.Context, req *ReactionRequest) (*ReactionResponse, error) {
	mctx, err := parseContext(req.Context)
	if err != nil {
		return nil, err
	}
	if req.Emoji == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "empty emoji")
	}
	added, err := s.pipeline.ToggleReaction(ctx, mctx, req.MessageID, req.Emoji)
	if err != nil {
		return nil, statusError("react", err)
	}
	return &ReactionResponse{Added: added}, nil
}

// MessageServiceDesc describes MessageService for grpc.Server.RegisterService.
var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "SendText", MessageServer.SendText),
		unary(MessageServiceName, "SendTransfer", MessageServer.SendTransfer),
		unary(MessageServiceName, "RetrySend", MessageServer.RetrySend),
		unary(MessageServiceName, "GetSendStatus", MessageServer.GetSendStatus),
		unary(MessageServiceName, "ListFailed", MessageServer.ListFailed),
		unary(MessageServiceName, "EditMessage", MessageServer.EditMessage),
		unary(MessageServiceName, "DeleteMessage", MessageServer.DeleteMessage),
		unary(MessageServiceName, "ToggleReaction", MessageServer.ToggleReaction),
	},
}

// RegisterMessageService registers srv on s.
func RegisterMessageService(s grpc.ServiceRegistrar, srv MessageServer) {
	s.RegisterService(&MessageServiceDesc, srv)
}

// IsNotFound reports whether err is a NotFound status from the daemon.
func IsNotFound(err error) bool {
	return grpcstatus.Code(err) == codes.NotFound
}
