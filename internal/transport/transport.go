package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/internal/clocksync"
	"github.com/ChuLiYu/simclock/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Directory maps participant names to gRPC addresses.
type Directory struct {
	mu    sync.RWMutex
	addrs map[string]string
}

func NewDirectory(addrs map[string]string) *Directory {
	d := &Directory{addrs: make(map[string]string, len(addrs))}
	for name, addr := range addrs {
		d.addrs[name] = addr
	}
	return d
}

// Set adds or replaces the address of a participant.
func (d *Directory) Set(name, addr string) {
	d.mu.Lock()
	d.addrs[name] = addr
	d.mu.Unlock()
}

func (d *Directory) Lookup(name string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.addrs[name]
	if !ok {
		return "", types.NewNotFound("participant %q", name)
	}
	return addr, nil
}

func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.addrs))
	for name := range d.addrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GrpcTransport dials participants by name and caches one connection per
// address.
type GrpcTransport struct {
	dir  *Directory
	opts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGrpcTransport creates a transport resolving names through dir. Extra
// dial options are appended to the insecure credentials.
func NewGrpcTransport(dir *Directory, opts ...grpc.DialOption) *GrpcTransport {
	return &GrpcTransport{
		dir:   dir,
		opts:  append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
		conns: make(map[string]*grpc.ClientConn),
	}
}

// conn returns the cached connection to the participant called name.
// grpc.NewClient connects lazily, so an unreachable peer only shows up at
// the first call.
func (t *GrpcTransport) conn(name string) (*grpc.ClientConn, error) {
	addr, err := t.dir.Lookup(name)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(addr, t.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial participant %s at %s: %w", name, addr, err)
	}
	t.conns[addr] = c
	log.Debug("connection created", "participant", name, "addr", addr)
	return c, nil
}

// Master returns a client of the timing master called name.
func (t *GrpcTransport) Master(name string) (clocksync.MasterClient, error) {
	c, err := t.conn(name)
	if err != nil {
		return nil, err
	}
	return NewMasterClient(c), nil
}

// Slave returns the reverse channel to the slave called name.
func (t *GrpcTransport) Slave(name string) (clocksync.SlaveClient, error) {
	c, err := t.conn(name)
	if err != nil {
		return nil, err
	}
	return NewSlaveClient(c), nil
}

func (t *GrpcTransport) Inspector(name string) (*InspectorClient, error) {
	c, err := t.conn(name)
	if err != nil {
		return nil, err
	}
	return NewInspectorClient(c), nil
}

// Close closes every cached connection.
func (t *GrpcTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for addr, c := range t.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.conns, addr)
	}
	return firstErr
}

// LoggingInterceptor logs every unary call at debug level and failed calls
// at warn level.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		log.Warn("rpc failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		return resp, err
	}
	log.Debug("rpc served", "method", info.FullMethod, "duration", time.Since(start))
	return resp, nil
}

var (
	_ clocksync.MasterClient = (*MasterClient)(nil)
	_ clocksync.SlaveClient  = (*SlaveClient)(nil)
)
