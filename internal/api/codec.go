package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/send"
	"github.com/sugawarayuuta/sonnet"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Every RPC carries a structpb.Struct on the wire. Handlers and the client
// work with the typed request and response structs in types.go; the JSON
// form of those structs is the Struct's content.

func toStruct(v any) (*structpb.Struct, error) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := sonnet.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// unary builds the method descriptor of a Struct-in, Struct-out RPC served
// by fn on a server of type S.
func unary[S, Req, Resp any](service, name string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, raw any) (any, error) {
				var req Req
				if err := fromStruct(raw.(*structpb.Struct), &req); err != nil {
					return nil, grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", name, err)
				}
				resp, err := fn(srv.(S), ctx, &req)
				if err != nil {
					return nil, err
				}
				return toStruct(resp)
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, call)
		},
	}
}

// invoke calls a unary RPC with typed request and response.
func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, name string, req any) (*Resp, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+service+"/"+name, in, out); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := fromStruct(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// statusError maps engine and pipeline errors to gRPC codes.
func statusError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, send.ErrUnknownMessage), errors.Is(err, send.ErrUnknownChat):
		code = codes.NotFound
	case errors.Is(err, backend.ErrEventsFailed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		if _, ok := backend.AsRejected(err); ok {
			code = codes.FailedPrecondition
		}
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
