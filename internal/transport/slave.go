package transport

import (
	"context"
	"strconv"

	"github.com/ChuLiYu/simclock/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// SlaveServiceName is the full gRPC name of the slave service.
const SlaveServiceName = "simclock.clocksync.v1.ClockSyncSlave"

// SlaveHandler serves the events the master pushes to a slave.
type SlaveHandler interface {
	// SyncTimeEvent returns the slave's local time after the event, or "-1".
	SyncTimeEvent(eventID int32, newTime, oldTime string) string
}

// SlaveServiceDesc describes the slave service.
var SlaveServiceDesc = grpc.ServiceDesc{
	ServiceName: SlaveServiceName,
	HandlerType: (*SlaveHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary(SlaveServiceName, "SyncTimeEvent", newStruct, func(srv any, _ context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
			id, err := numberField(req, "event_id")
			if err != nil {
				return nil, err
			}
			newTime, err := stringField(req, "new_time")
			if err != nil {
				return nil, err
			}
			oldTime, err := stringField(req, "old_time")
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(srv.(SlaveHandler).SyncTimeEvent(int32(id), newTime, oldTime)), nil
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "simclock/clocksync/v1/slave",
}

// RegisterSlave registers h as the slave service of s.
func RegisterSlave(s grpc.ServiceRegistrar, h SlaveHandler) {
	s.RegisterService(&SlaveServiceDesc, h)
}

// SlaveClient calls a remote slave.
type SlaveClient struct {
	cc grpc.ClientConnInterface
}

func NewSlaveClient(cc grpc.ClientConnInterface) *SlaveClient {
	return &SlaveClient{cc: cc}
}

func (c *SlaveClient) SyncTimeEvent(ctx context.Context, id types.EventID, newTime, oldTime types.Timestamp) (types.Timestamp, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"event_id": structpb.NewNumberValue(float64(id)),
		"new_time": structpb.NewStringValue(formatTime(newTime)),
		"old_time": structpb.NewStringValue(formatTime(oldTime)),
	}}
	resp, err := invoke(ctx, c.cc, SlaveServiceName, "SyncTimeEvent", req, &wrapperspb.StringValue{})
	if err != nil {
		return 0, err
	}
	n, err := parseTime("SyncTimeEvent", resp.GetValue())
	return types.Timestamp(n), err
}

func formatTime(t types.Timestamp) string {
	return strconv.FormatInt(int64(t), 10)
}
