// Package transport carries the remote synchronization and inspection calls
// over gRPC. The services are described by hand written grpc.ServiceDesc
// values whose messages are protobuf well-known types, so no generated code
// is needed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/simclock/pkg/types"
)

var log = slog.With("component", "transport")

// ErrRemoteFailure 遠端呼叫回傳 -1
var ErrRemoteFailure = errors.New("remote call failed")

const failure = "-1"

// unary builds the method descriptor of a unary call whose request is
// created by newReq and handled by call.
func unary[Req proto.Message, Resp proto.Message](service, method string, newReq func() Req, call func(srv any, ctx context.Context, req Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := newReq()
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(srv, ctx, r.(Req))
			})
		},
	}
}

// invoke performs one unary call. A missed deadline is reported as
// types.ErrTimeout.
func invoke[Resp proto.Message](ctx context.Context, cc grpc.ClientConnInterface, service, method string, req proto.Message, resp Resp) (Resp, error) {
	if err := cc.Invoke(ctx, "/"+service+"/"+method, req, resp); err != nil {
		if status.Code(err) == codes.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			return resp, fmt.Errorf("%s: %w: %w", method, types.ErrTimeout, err)
		}
		return resp, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

func numberField(s *structpb.Struct, key string) (int64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing field %q", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "field %q is not a number", key)
	}
	return int64(n.NumberValue), nil
}

func stringField(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "missing field %q", key)
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "field %q is not a string", key)
	}
	return str.StringValue, nil
}

// checkCode converts a 0|-1 reply into an error.
func checkCode(method string, code int32) error {
	if code < 0 {
		return fmt.Errorf("%s: %w", method, ErrRemoteFailure)
	}
	return nil
}

// parseTime parses a stringified nanosecond reply; "-1" is a failure.
func parseTime(method, s string) (int64, error) {
	if s == failure {
		return 0, fmt.Errorf("%s: %w", method, ErrRemoteFailure)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid reply %q: %w", method, s, err)
	}
	return n, nil
}
