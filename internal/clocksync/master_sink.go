// ============================================================================
// 主時鐘事件轉送
// ============================================================================
//
// Package: internal/clocksync
// 文件: master_sink.go
// 功能: 作為時鐘服務的 EventSink，將事件依訂閱旗標轉送給已註冊的從屬端
//
// 轉送規則:
//   - 每個從屬端擁有一個序列執行器（goroutine + 佇列），事件依序送達
//   - 每個事件等待所有從屬端回應，直到 time_update_timeout 到期
//   - 逾時只記錄；回應無效（傳輸錯誤或無法解析）則停用該從屬端
//   - 重複註冊同名從屬端：更新旗標並重新啟用
//
// 註冊權杖:
//   - 每次註冊產生新的 xid 權杖，送達前檢查權杖仍然有效
//   - 取消註冊會等待進行中的送達完成，之後不會再呼叫該從屬端
//
// ============================================================================

package clocksync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// errStaleRegistration 送達時註冊已被取代或移除
var errStaleRegistration = errors.New("slave registration changed")

const slaveQueueSize = 16

// ============================================================================
// 資料結構定義
// ============================================================================

type delivery struct {
	token   xid.ID
	id      types.EventID
	newTime types.Timestamp
	oldTime types.Timestamp
	timeout time.Duration
	result  chan deliveryResult
}

type deliveryResult struct {
	local types.Timestamp
	err   error
}

// slaveProxy 主時鐘端的從屬端代理
type slaveProxy struct {
	name   string
	client SlaveClient

	mu         sync.Mutex
	flags      types.EventIDFlag
	token      xid.ID
	active     bool
	lastSynced types.Timestamp
	closed     bool

	queue chan delivery
	done  chan struct{}
}

func newSlaveProxy(name string, client SlaveClient, flags types.EventIDFlag) *slaveProxy {
	p := &slaveProxy{
		name:   name,
		client: client,
		flags:  flags,
		token:  xid.New(),
		active: true,
		queue:  make(chan delivery, slaveQueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// run 序列執行器
func (p *slaveProxy) run() {
	defer close(p.done)
	for d := range p.queue {
		if !p.valid(d.token) {
			d.result <- deliveryResult{err: errStaleRegistration}
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		local, err := p.client.SyncTimeEvent(ctx, d.id, d.newTime, d.oldTime)
		cancel()
		d.result <- deliveryResult{local: local, err: err}
	}
}

func (p *slaveProxy) valid(token xid.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active && !p.closed && p.token == token
}

// enqueue 若從屬端啟用且訂閱了事件，送入佇列並回傳結果通道與當時的權杖
func (p *slaveProxy) enqueue(id types.EventID, newTime, oldTime types.Timestamp, timeout time.Duration) (<-chan deliveryResult, xid.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.active || !p.flags.Has(id.Flag()) {
		return nil, xid.NilID()
	}
	d := delivery{
		token:   p.token,
		id:      id,
		newTime: newTime,
		oldTime: oldTime,
		timeout: timeout,
		result:  make(chan deliveryResult, 1),
	}
	select {
	case p.queue <- d:
		return d.result, d.token
	default:
		// 執行器仍卡在先前的送達
		log.Warn("slave queue full, event not relayed", "slave", p.name, "event", id)
		return nil, xid.NilID()
	}
}

// reactivate 重新註冊：更新旗標並換發權杖
func (p *slaveProxy) reactivate(flags types.EventIDFlag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags = flags
	p.token = xid.New()
	p.active = true
}

// deactivate 只在權杖仍相同時停用，避免停用已重新註冊的從屬端
func (p *slaveProxy) deactivate(token xid.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != token || !p.active {
		return false
	}
	p.active = false
	return true
}

// close 停止執行器並等待進行中的送達完成
func (p *slaveProxy) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

func (p *slaveProxy) info() types.SlaveInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.SlaveInfo{Name: p.name, Flags: p.flags, Active: p.active, LastSynced: p.lastSynced}
}

// ============================================================================
// MasterSink
// ============================================================================

// MasterSink 將主時鐘事件轉送給從屬端
type MasterSink struct {
	mu      sync.Mutex
	dial    SlaveDialer
	timeout func() time.Duration
	metrics *metrics.Collector
	slaves  map[string]*slaveProxy
}

// NewMasterSink 建立轉送器；timeout 回傳目前的 time_update_timeout
func NewMasterSink(dial SlaveDialer, timeout func() time.Duration, m *metrics.Collector) *MasterSink {
	if timeout == nil {
		timeout = func() time.Duration { return types.DefaultTimeUpdateTimeout }
	}
	return &MasterSink{
		dial:    dial,
		timeout: timeout,
		metrics: m,
		slaves:  make(map[string]*slaveProxy),
	}
}

// RegisterSlave 註冊從屬端；同名時更新旗標並重新啟用
func (s *MasterSink) RegisterSlave(flags types.EventIDFlag, name string) error {
	if name == "" {
		return types.NewInvalidArgument("slave name must not be empty")
	}
	if flags&^types.FlagsAll != 0 {
		return types.NewInvalidArgument("unknown event flags %#x", int32(flags))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.slaves[name]; ok {
		p.reactivate(flags)
		log.Info("slave re-registered", "slave", name, "flags", flags)
		s.updateGauge()
		return nil
	}

	client, err := s.dial(name)
	if err != nil {
		return err
	}
	s.slaves[name] = newSlaveProxy(name, client, flags)
	log.Info("slave registered", "slave", name, "flags", flags)
	s.updateGauge()
	return nil
}

// UnregisterSlave 移除從屬端，返回後不會再呼叫它
func (s *MasterSink) UnregisterSlave(name string) error {
	s.mu.Lock()
	p, ok := s.slaves[name]
	if ok {
		delete(s.slaves, name)
		s.updateGauge()
	}
	s.mu.Unlock()

	if !ok {
		return types.NewNotFound("slave %q", name)
	}
	p.close()
	log.Info("slave unregistered", "slave", name)
	return nil
}

// SlaveSynced 記錄從屬端回報的同步時間
func (s *MasterSink) SlaveSynced(t types.Timestamp, name string) error {
	s.mu.Lock()
	p, ok := s.slaves[name]
	s.mu.Unlock()
	if !ok {
		return types.NewNotFound("slave %q", name)
	}
	p.mu.Lock()
	p.lastSynced = t
	p.mu.Unlock()
	return nil
}

// Slaves 所有從屬端狀態（依名稱排序）
func (s *MasterSink) Slaves() []types.SlaveInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SlaveInfo, 0, len(s.slaves))
	for _, p := range s.slaves {
		out = append(out, p.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close 移除所有從屬端
func (s *MasterSink) Close() {
	s.mu.Lock()
	slaves := s.slaves
	s.slaves = make(map[string]*slaveProxy)
	s.updateGauge()
	s.mu.Unlock()

	for _, p := range slaves {
		p.close()
	}
}

// updateGauge 呼叫端需持有 s.mu
func (s *MasterSink) updateGauge() {
	n := 0
	for _, p := range s.slaves {
		if p.info().Active {
			n++
		}
	}
	s.metrics.SetActiveSlaves(n)
}

// ============================================================================
// clock.EventSink
// ============================================================================

func (s *MasterSink) TimeUpdateBegin(oldTime, newTime types.Timestamp) {
	s.relay(types.EventTimeUpdateBefore, newTime, oldTime)
}

func (s *MasterSink) TimeUpdating(newTime types.Timestamp) {
	s.relay(types.EventTimeUpdating, newTime, newTime)
}

func (s *MasterSink) TimeUpdateEnd(newTime types.Timestamp) {
	s.relay(types.EventTimeUpdateAfter, newTime, newTime)
}

func (s *MasterSink) TimeResetBegin(oldTime, newTime types.Timestamp) {
	s.relay(types.EventTimeReset, newTime, oldTime)
}

// TimeResetEnd 不轉送，重置已在 TimeResetBegin 送出
func (s *MasterSink) TimeResetEnd(types.Timestamp) {}

type pending struct {
	proxy  *slaveProxy
	token  xid.ID
	result <-chan deliveryResult
}

// relay 送出事件並等待所有回應，最多等待 time_update_timeout
func (s *MasterSink) relay(id types.EventID, newTime, oldTime types.Timestamp) {
	timeout := s.timeout()

	s.mu.Lock()
	waits := make([]pending, 0, len(s.slaves))
	for _, p := range s.slaves {
		if ch, token := p.enqueue(id, newTime, oldTime, timeout); ch != nil {
			waits = append(waits, pending{proxy: p, token: token, result: ch})
		}
	}
	s.mu.Unlock()

	if len(waits) == 0 {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, w := range waits {
		select {
		case res := <-w.result:
			s.handleResult(w, id, res)
		case <-timer.C:
			log.Warn("slaves did not answer in time", "event", id, "time", newTime, "timeout", timeout)
			s.metrics.RecordRelayTimeout()
			return
		}
	}
}

func (s *MasterSink) handleResult(w pending, id types.EventID, res deliveryResult) {
	if errors.Is(res.err, errStaleRegistration) {
		return
	}
	if res.err != nil {
		if w.proxy.deactivate(w.token) {
			log.Error("slave deactivated after invalid response", "slave", w.proxy.name, "event", id, "error", res.err)
			s.metrics.RecordSlaveDeactivated(w.proxy.name)
			s.mu.Lock()
			s.updateGauge()
			s.mu.Unlock()
		}
		return
	}
	w.proxy.mu.Lock()
	w.proxy.lastSynced = res.local
	w.proxy.mu.Unlock()
}
