package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a session daemon over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// Dial connects to the daemon listening on socketPath. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, SessionServiceName, "GetStatus", &Empty{})
}

func (c *Client) SetEnv(ctx context.Context, req *EnvRequest) (*EnvResponse, error) {
	return invoke[EnvResponse](ctx, c.cc, SessionServiceName, "SetEnv", req)
}

// EventStream receives events from WatchEvents.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the daemon ends
// the stream.
func (s *EventStream) Recv() (*WatchEvent, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	var evt WatchEvent
	if err := fromStruct(out, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// Watch streams bus events whose kind starts with prefix until ctx ends.
func (c *Client) Watch(ctx context.Context, prefix string) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &SessionServiceDesc.Streams[0], watchPath())
	if err != nil {
		return nil, err
	}
	in, err := toStruct(&WatchRequest{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

func (c *Client) SyncStatus(ctx context.Context) (*SyncStatusResponse, error) {
	return invoke[SyncStatusResponse](ctx, c.cc, SyncServiceName, "GetSyncStatus", &Empty{})
}

func (c *Client) OpenContext(ctx context.Context, mctx string) error {
	_, err := invoke[Empty](ctx, c.cc, SyncServiceName, "OpenContext", &ContextRequest{Context: mctx})
	return err
}

func (c *Client) CloseContext(ctx context.Context, mctx string) error {
	_, err := invoke[Empty](ctx, c.cc, SyncServiceName, "CloseContext", &ContextRequest{Context: mctx})
	return err
}

func (c *Client) LoadPrevious(ctx context.Context, mctx string) error {
	_, err := invoke[Empty](ctx, c.cc, SyncServiceName, "LoadPrevious", &ContextRequest{Context: mctx})
	return err
}

func (c *Client) Refresh(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c.cc, SyncServiceName, "Refresh", &Empty{})
	return err
}

func (c *Client) ListChats(ctx context.Context, chat string) (*ListChatsResponse, error) {
	return invoke[ListChatsResponse](ctx, c.cc, ChatServiceName, "ListChats", &ListChatsRequest{Chat: chat})
}

func (c *Client) Timeline(ctx context.Context, mctx string, limit int) (*TimelineResponse, error) {
	return invoke[TimelineResponse](ctx, c.cc, ChatServiceName, "GetTimeline", &TimelineRequest{Context: mctx, Limit: limit})
}

func (c *Client) UpdateSettings(ctx context.Context, req *SettingsRequest) error {
	_, err := invoke[Empty](ctx, c.cc, ChatServiceName, "UpdateSettings", req)
	return err
}

func (c *Client) SetTyping(ctx context.Context, mctx string, active bool) error {
	_, err := invoke[Empty](ctx, c.cc, ChatServiceName, "SetTyping", &TypingRequest{Context: mctx, Active: active})
	return err
}

func (c *Client) ReadReceipts(ctx context.Context, chat string) (*ReadReceiptsResponse, error) {
	return invoke[ReadReceiptsResponse](ctx, c.cc, ChatServiceName, "GetReadReceipts", &ReadReceiptsRequest{Chat: chat})
}

func (c *Client) MarkRead(ctx context.Context, chat string, messageIndex int) error {
	_, err := invoke[Empty](ctx, c.cc, ChatServiceName, "MarkRead", &MarkReadRequest{Chat: chat, MessageIndex: messageIndex})
	return err
}

func (c *Client) SendText(ctx context.Context, req *SendTextRequest) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c.cc, MessageServiceName, "SendText", req)
}

func (c *Client) SendTransfer(ctx context.Context, req *SendTransferRequest) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c.cc, MessageServiceName, "SendTransfer", req)
}

func (c *Client) RetrySend(ctx context.Context, req *RetryRequest) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c.cc, MessageServiceName, "RetrySend", req)
}

func (c *Client) SendStatus(ctx context.Context, mctx, messageID string) (*SendStatusResponse, error) {
	return invoke[SendStatusResponse](ctx, c.cc, MessageServiceName, "GetSendStatus", &MessageRequest{Context: mctx, MessageID: messageID})
}

func (c *Client) ListFailed(ctx context.Context, mctx string) (*ListFailedResponse, error) {
	return invoke[ListFailedResponse](ctx, c.cc, MessageServiceName, "ListFailed", &ContextRequest{Context: mctx})
}

func (c *Client) Edit(ctx context.Context, mctx, messageID, text string) error {
	_, err := invoke[Empty](ctx, c.cc, MessageServiceName, "EditMessage", &EditRequest{Context: mctx, MessageID: messageID, Text: text})
	return err
}

func (c *Client) Delete(ctx context.Context, mctx, messageID string, undelete bool) error {
	_, err := invoke[Empty](ctx, c.cc, MessageServiceName, "DeleteMessage", &DeleteRequest{Context: mctx, MessageID: messageID, Undelete: undelete})
	return err
}

func (c *Client) React(ctx context.Context, mctx, messageID, emoji string) (*ReactionResponse, error) {
	return invoke[ReactionResponse](ctx, c.cc, MessageServiceName, "ToggleReaction", &ReactionRequest{Context: mctx, MessageID: messageID, Emoji: emoji})
}
