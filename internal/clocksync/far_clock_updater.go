// ============================================================================
// 遠端時鐘更新器
// ============================================================================
//
// Package: internal/clocksync
// 文件: far_clock_updater.go
// 功能: 從屬端與主時鐘之間的同步流程
//
// 流程:
//   1. StartRPC  - 查詢主時鐘類型並註冊為從屬端
//   2. StartWork - 每個 sync_cycle_time 輪詢主時鐘時間（Christian 演算法）
//                  主時鐘為離散時鐘時只負責失敗後重新註冊
//   3. StopWork  - 停止工作迴圈
//   4. StopRPC   - 取消註冊
//
// 容錯:
//   - 單次失敗只記錄，下一週期重新註冊並重試
//   - 連續 max_missed_syncs 次失敗記錄錯誤並更新 gauge，時鐘持續運行
//
// ============================================================================

package clocksync

import (
	"context"
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/internal/metrics"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// UpdaterConfig 從屬端同步設定
type UpdaterConfig struct {
	ParticipantName string
	SyncCycleTime   time.Duration
	MaxMissedSyncs  int
	CallTimeout     time.Duration
	Flags           types.EventIDFlag
}

func (c UpdaterConfig) withDefaults() UpdaterConfig {
	if c.SyncCycleTime <= 0 {
		c.SyncCycleTime = types.DefaultSyncCycleTime
	}
	if c.MaxMissedSyncs <= 0 {
		c.MaxMissedSyncs = types.DefaultMaxMissedSyncs
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Flags == 0 {
		c.Flags = types.FlagTimeUpdating | types.FlagTimeReset
	}
	return c
}

// syncTarget 被更新的本地從屬時鐘
type syncTarget interface {
	Time() types.Timestamp
	applyMasterTime(master types.Timestamp, rtt time.Duration)
	handleEvent(id types.EventID, newTime, oldTime types.Timestamp) (types.Timestamp, error)
}

// FarClockUpdater 維護與主時鐘的註冊與輪詢
type FarClockUpdater struct {
	cfg     UpdaterConfig
	master  MasterClient
	target  syncTarget
	metrics *metrics.Collector

	mu         sync.Mutex
	registered bool
	masterType types.ClockType
	failures   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newFarClockUpdater(cfg UpdaterConfig, master MasterClient, target syncTarget, m *metrics.Collector) *FarClockUpdater {
	return &FarClockUpdater{
		cfg:     cfg.withDefaults(),
		master:  master,
		target:  target,
		metrics: m,
	}
}

// StartRPC 查詢主時鐘類型並註冊；失敗時由工作迴圈重試
func (u *FarClockUpdater) StartRPC(ctx context.Context) error {
	if err := u.register(ctx); err != nil {
		log.Warn("registration at master failed, will retry", "participant", u.cfg.ParticipantName, "error", err)
		return err
	}
	return nil
}

func (u *FarClockUpdater) register(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
	defer cancel()

	typ, err := u.master.GetMasterType(callCtx)
	if err != nil {
		return err
	}
	if err := u.master.RegisterSyncSlave(callCtx, u.cfg.Flags, u.cfg.ParticipantName); err != nil {
		return err
	}

	u.mu.Lock()
	u.registered = true
	u.masterType = typ
	u.mu.Unlock()

	log.Info("registered at master", "participant", u.cfg.ParticipantName, "master_type", typ, "flags", u.cfg.Flags)
	return nil
}

// StopRPC 取消註冊
func (u *FarClockUpdater) StopRPC(ctx context.Context) error {
	u.mu.Lock()
	registered := u.registered
	u.registered = false
	u.mu.Unlock()
	if !registered {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
	defer cancel()
	return u.master.UnregisterSyncSlave(callCtx, u.cfg.ParticipantName)
}

// StartWork 啟動同步迴圈
func (u *FarClockUpdater) StartWork() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.failures = 0

	u.wg.Add(1)
	go u.work(ctx)
}

// StopWork 停止同步迴圈並等待結束
func (u *FarClockUpdater) StopWork() {
	u.mu.Lock()
	cancel := u.cancel
	u.cancel = nil
	u.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	u.wg.Wait()
}

func (u *FarClockUpdater) work(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.cfg.SyncCycleTime)
	defer ticker.Stop()

	for {
		u.cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle 執行一次同步：必要時重新註冊，連續主時鐘則輪詢時間
func (u *FarClockUpdater) cycle(ctx context.Context) {
	u.mu.Lock()
	registered := u.registered
	typ := u.masterType
	u.mu.Unlock()

	if !registered {
		if err := u.register(ctx); err != nil {
			u.fail(ctx, err)
			return
		}
		u.mu.Lock()
		typ = u.masterType
		u.mu.Unlock()
	}

	if typ != types.ClockContinuous {
		u.succeed()
		return
	}

	if err := u.poll(ctx); err != nil {
		u.mu.Lock()
		u.registered = false
		u.mu.Unlock()
		u.fail(ctx, err)
		return
	}
	u.succeed()
}

// poll 取得主時鐘時間並以 master + rtt/2 更新本地時鐘
func (u *FarClockUpdater) poll(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
	defer cancel()

	sent := time.Now()
	master, err := u.master.GetMasterTime(callCtx)
	rtt := time.Since(sent)
	if err != nil {
		return err
	}
	u.metrics.ObserveSyncRTT(rtt.Seconds())
	u.target.applyMasterTime(master, rtt)

	if err := u.master.SlaveSyncedEvent(callCtx, u.target.Time(), u.cfg.ParticipantName); err != nil {
		log.Debug("synced event not delivered", "error", err)
	}
	return nil
}

// fail 記錄一次失敗；工作迴圈停止造成的取消不計入
func (u *FarClockUpdater) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	u.mu.Lock()
	u.failures++
	n := u.failures
	u.mu.Unlock()

	u.metrics.SetSyncFailures(n)
	if n == u.cfg.MaxMissedSyncs {
		log.Error("master unreachable", "participant", u.cfg.ParticipantName, "missed_syncs", n, "error", err)
		return
	}
	log.Warn("sync with master failed", "participant", u.cfg.ParticipantName, "missed_syncs", n, "error", err)
}

func (u *FarClockUpdater) succeed() {
	u.mu.Lock()
	n := u.failures
	u.failures = 0
	u.mu.Unlock()

	if n > 0 {
		u.metrics.SetSyncFailures(0)
		log.Info("sync with master recovered", "participant", u.cfg.ParticipantName, "missed_syncs", n)
	}
}

// HandleEvent 處理主時鐘推送的事件，返回處理後的本地時間
func (u *FarClockUpdater) HandleEvent(id types.EventID, newTime, oldTime types.Timestamp) (types.Timestamp, error) {
	if !u.cfg.Flags.Has(id.Flag()) {
		return 0, types.NewInvalidArgument("event %s not subscribed", id)
	}
	return u.target.handleEvent(id, newTime, oldTime)
}

// ConsecutiveFailures 目前連續失敗次數
func (u *FarClockUpdater) ConsecutiveFailures() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.failures
}

// Registered 是否已在主時鐘註冊
func (u *FarClockUpdater) Registered() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.registered
}
