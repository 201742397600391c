package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// InspectorServiceName is the full gRPC name of the inspection service.
const InspectorServiceName = "simclock.registry.v1.Inspector"

// InspectorHandler exposes the job registry and health state of a
// participant. Structured replies are JSON documents.
type InspectorHandler interface {
	GetJobNames() string
	GetJobInfo(name string) string
	GetHealth() string
	GetSlaves() string
}

var InspectorServiceDesc = grpc.ServiceDesc{
	ServiceName: InspectorServiceName,
	HandlerType: (*InspectorHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary(InspectorServiceName, "GetJobNames", newEmpty, func(srv any, _ context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(srv.(InspectorHandler).GetJobNames()), nil
		}),
		unary(InspectorServiceName, "GetJobInfo", newString, func(srv any, _ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(srv.(InspectorHandler).GetJobInfo(req.GetValue())), nil
		}),
		unary(InspectorServiceName, "GetHealth", newEmpty, func(srv any, _ context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(srv.(InspectorHandler).GetHealth()), nil
		}),
		unary(InspectorServiceName, "GetSlaves", newEmpty, func(srv any, _ context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(srv.(InspectorHandler).GetSlaves()), nil
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "simclock/registry/v1/inspector",
}

func RegisterInspector(s grpc.ServiceRegistrar, h InspectorHandler) {
	s.RegisterService(&InspectorServiceDesc, h)
}

// InspectorClient calls the inspection service of a participant.
type InspectorClient struct {
	cc grpc.ClientConnInterface
}

func NewInspectorClient(cc grpc.ClientConnInterface) *InspectorClient {
	return &InspectorClient{cc: cc}
}

func (c *InspectorClient) call(ctx context.Context, method string, req any) (string, error) {
	resp := &wrapperspb.StringValue{}
	if err := c.cc.Invoke(ctx, "/"+InspectorServiceName+"/"+method, req, resp); err != nil {
		return "", err
	}
	if resp.GetValue() == failure {
		return "", ErrRemoteFailure
	}
	return resp.GetValue(), nil
}

func (c *InspectorClient) GetJobNames(ctx context.Context) (string, error) {
	return c.call(ctx, "GetJobNames", &emptypb.Empty{})
}

func (c *InspectorClient) GetJobInfo(ctx context.Context, name string) (string, error) {
	return c.call(ctx, "GetJobInfo", wrapperspb.String(name))
}

func (c *InspectorClient) GetHealth(ctx context.Context) (string, error) {
	return c.call(ctx, "GetHealth", &emptypb.Empty{})
}

func (c *InspectorClient) GetSlaves(ctx context.Context) (string, error) {
	return c.call(ctx, "GetSlaves", &emptypb.Empty{})
}
