package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/pkg/types"
)

var errUnreachable = errors.New("unreachable")

// fakeMaster is an in-memory master participant.
type fakeMaster struct {
	mu            sync.Mutex
	typ           types.ClockType
	time          types.Timestamp
	err           error
	registrations []types.EventIDFlag
	unregistered  []string
	synced        []types.Timestamp
}

func (m *fakeMaster) GetMasterTime(context.Context) (types.Timestamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.time, m.err
}

func (m *fakeMaster) GetMasterType(context.Context) (types.ClockType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typ, m.err
}

func (m *fakeMaster) RegisterSyncSlave(_ context.Context, flags types.EventIDFlag, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.registrations = append(m.registrations, flags)
	return nil
}

func (m *fakeMaster) UnregisterSyncSlave(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregistered = append(m.unregistered, name)
	return m.err
}

func (m *fakeMaster) SlaveSyncedEvent(_ context.Context, t types.Timestamp, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = append(m.synced, t)
	return m.err
}

func (m *fakeMaster) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *fakeMaster) registrationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registrations)
}

// fakeSlave records the events delivered by the master. With block set, a
// delivery waits until release is closed.
type fakeSlave struct {
	mu      sync.Mutex
	events  []types.EventID
	err     error
	block   chan struct{}
	entered chan struct{}
}

func newFakeSlave() *fakeSlave {
	return &fakeSlave{entered: make(chan struct{}, 64)}
}

func (s *fakeSlave) SyncTimeEvent(_ context.Context, id types.EventID, newTime, _ types.Timestamp) (types.Timestamp, error) {
	s.entered <- struct{}{}
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, id)
	return newTime, s.err
}

func (s *fakeSlave) received() []types.EventID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.EventID(nil), s.events...)
}

func dialerFor(slaves map[string]*fakeSlave) SlaveDialer {
	return func(name string) (SlaveClient, error) {
		s, ok := slaves[name]
		if !ok {
			return nil, fmt.Errorf("dial %s: %w", name, errUnreachable)
		}
		return s, nil
	}
}

// recordingSink records clock events as strings.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recordingSink) TimeUpdateBegin(o, n types.Timestamp) { r.add("begin %s %s", o, n) }
func (r *recordingSink) TimeUpdating(n types.Timestamp)       { r.add("updating %s", n) }
func (r *recordingSink) TimeUpdateEnd(n types.Timestamp)      { r.add("end %s", n) }
func (r *recordingSink) TimeResetBegin(o, n types.Timestamp)  { r.add("reset_begin %s %s", o, n) }
func (r *recordingSink) TimeResetEnd(n types.Timestamp)       { r.add("reset_end %s", n) }

func (r *recordingSink) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

var _ clock.EventSink = (*recordingSink)(nil)

// fakeRegistrar stands in for the clock service.
type fakeRegistrar struct {
	mu     sync.Mutex
	clocks map[string]clock.Clock
}

func (f *fakeRegistrar) RegisterClock(c clock.Clock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clocks == nil {
		f.clocks = make(map[string]clock.Clock)
	}
	if _, ok := f.clocks[c.Name()]; ok {
		return types.NewDuplicateName("clock", c.Name())
	}
	f.clocks[c.Name()] = c
	return nil
}

func (f *fakeRegistrar) UnregisterClock(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clocks[name]; !ok {
		return types.NewNotFound("clock %q", name)
	}
	delete(f.clocks, name)
	return nil
}

func (f *fakeRegistrar) get(name string) clock.Clock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clocks[name]
}

const ms = time.Millisecond
