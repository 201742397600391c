package transport

import (
	"context"

	"github.com/ChuLiYu/simclock/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MasterServiceName is the full gRPC name of the master service.
const MasterServiceName = "simclock.clocksync.v1.ClockSyncMaster"

// MasterHandler serves the calls a slave makes on the timing master.
// Times are stringified nanoseconds, failures are "-1" or -1.
type MasterHandler interface {
	GetClockNames() string
	GetMasterTime() string
	GetMasterType() int32
	RegisterSyncSlave(eventFlag int32, clientName string) int32
	UnregisterSyncSlave(clientName string) int32
	SlaveSyncedEvent(timestamp, clientName string) int32
	GetTime(clockName string) string
}

func newEmpty() *emptypb.Empty          { return &emptypb.Empty{} }
func newString() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }
func newStruct() *structpb.Struct       { return &structpb.Struct{} }

// MasterServiceDesc describes the master service.
var MasterServiceDesc = grpc.ServiceDesc{
	ServiceName: MasterServiceName,
	HandlerType: (*MasterHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary(MasterServiceName, "GetClockNames", newEmpty, func(srv any, _ context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(srv.(MasterHandler).GetClockNames()), nil
		}),
		unary(MasterServiceName, "GetMasterTime", newEmpty, func(srv any, _ context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(srv.(MasterHandler).GetMasterTime()), nil
		}),
		unary(MasterServiceName, "GetMasterType", newEmpty, func(srv any, _ context.Context, _ *emptypb.Empty) (*wrapperspb.Int32Value, error) {
			return wrapperspb.Int32(srv.(MasterHandler).GetMasterType()), nil
		}),
		unary(MasterServiceName, "RegisterSyncSlave", newStruct, func(srv any, _ context.Context, req *structpb.Struct) (*wrapperspb.Int32Value, error) {
			flags, err := numberField(req, "event_flag")
			if err != nil {
				return nil, err
			}
			name, err := stringField(req, "client_name")
			if err != nil {
				return nil, err
			}
			return wrapperspb.Int32(srv.(MasterHandler).RegisterSyncSlave(int32(flags), name)), nil
		}),
		unary(MasterServiceName, "UnregisterSyncSlave", newString, func(srv any, _ context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int32Value, error) {
			return wrapperspb.Int32(srv.(MasterHandler).UnregisterSyncSlave(req.GetValue())), nil
		}),
		unary(MasterServiceName, "SlaveSyncedEvent", newStruct, func(srv any, _ context.Context, req *structpb.Struct) (*wrapperspb.Int32Value, error) {
			ts, err := stringField(req, "timestamp")
			if err != nil {
				return nil, err
			}
			name, err := stringField(req, "client_name")
			if err != nil {
				return nil, err
			}
			return wrapperspb.Int32(srv.(MasterHandler).SlaveSyncedEvent(ts, name)), nil
		}),
		unary(MasterServiceName, "GetTime", newString, func(srv any, _ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
			return wrapperspb.String(srv.(MasterHandler).GetTime(req.GetValue())), nil
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "simclock/clocksync/v1/master",
}

// RegisterMaster registers h as the master service of s.
func RegisterMaster(s grpc.ServiceRegistrar, h MasterHandler) {
	s.RegisterService(&MasterServiceDesc, h)
}

// MasterClient calls a remote timing master.
type MasterClient struct {
	cc grpc.ClientConnInterface
}

// NewMasterClient wraps cc.
func NewMasterClient(cc grpc.ClientConnInterface) *MasterClient {
	return &MasterClient{cc: cc}
}

func (c *MasterClient) GetClockNames(ctx context.Context) (string, error) {
	resp, err := invoke(ctx, c.cc, MasterServiceName, "GetClockNames", &emptypb.Empty{}, &wrapperspb.StringValue{})
	if err != nil {
		return "", err
	}
	return resp.GetValue(), nil
}

func (c *MasterClient) GetMasterTime(ctx context.Context) (types.Timestamp, error) {
	resp, err := invoke(ctx, c.cc, MasterServiceName, "GetMasterTime", &emptypb.Empty{}, &wrapperspb.StringValue{})
	if err != nil {
		return 0, err
	}
	n, err := parseTime("GetMasterTime", resp.GetValue())
	return types.Timestamp(n), err
}

func (c *MasterClient) GetMasterType(ctx context.Context) (types.ClockType, error) {
	resp, err := invoke(ctx, c.cc, MasterServiceName, "GetMasterType", &emptypb.Empty{}, &wrapperspb.Int32Value{})
	if err != nil {
		return 0, err
	}
	if err := checkCode("GetMasterType", resp.GetValue()); err != nil {
		return 0, err
	}
	return types.ClockType(resp.GetValue()), nil
}

func (c *MasterClient) RegisterSyncSlave(ctx context.Context, flags types.EventIDFlag, name string) error {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"event_flag":  structpb.NewNumberValue(float64(flags)),
		"client_name": structpb.NewStringValue(name),
	}}
	resp, err := invoke(ctx, c.cc, MasterServiceName, "RegisterSyncSlave", req, &wrapperspb.Int32Value{})
	if err != nil {
		return err
	}
	return checkCode("RegisterSyncSlave", resp.GetValue())
}

func (c *MasterClient) UnregisterSyncSlave(ctx context.Context, name string) error {
	resp, err := invoke(ctx, c.cc, MasterServiceName, "UnregisterSyncSlave", wrapperspb.String(name), &wrapperspb.Int32Value{})
	if err != nil {
		return err
	}
	return checkCode("UnregisterSyncSlave", resp.GetValue())
}

func (c *MasterClient) SlaveSyncedEvent(ctx context.Context, t types.Timestamp, name string) error {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"timestamp":   structpb.NewStringValue(formatTime(t)),
		"client_name": structpb.NewStringValue(name),
	}}
	resp, err := invoke(ctx, c.cc, MasterServiceName, "SlaveSyncedEvent", req, &wrapperspb.Int32Value{})
	if err != nil {
		return err
	}
	return checkCode("SlaveSyncedEvent", resp.GetValue())
}

// GetTime reads the clock called name on the remote participant.
func (c *MasterClient) GetTime(ctx context.Context, name string) (types.Timestamp, error) {
	resp, err := invoke(ctx, c.cc, MasterServiceName, "GetTime", wrapperspb.String(name), &wrapperspb.StringValue{})
	if err != nil {
		return 0, err
	}
	n, err := parseTime("GetTime", resp.GetValue())
	return types.Timestamp(n), err
}
