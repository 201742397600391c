// Package types 定義了 simclock 系統中使用的核心領域模型
package types

import (
	"strconv"
	"time"
)

// Timestamp 模擬時間，單位為奈秒
type Timestamp = time.Duration

// ClockType 時鐘類型
type ClockType int32

// 定義時鐘類型常數，數值與 RPC 協定一致
const (
	ClockContinuous ClockType = 0 // 連續時鐘：時間隨牆鐘持續前進
	ClockDiscrete   ClockType = 1 // 離散時鐘：時間以步進方式跳躍
)

func (t ClockType) String() string {
	switch t {
	case ClockContinuous:
		return "continuous"
	case ClockDiscrete:
		return "discrete"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// 內建時鐘名稱
const (
	ClockLocalSystemRealtime          = "local_system_realtime"
	ClockLocalSystemSimtime           = "local_system_simtime"
	ClockSlaveMasterOnDemand          = "slave_master_on_demand"
	ClockSlaveMasterOnDemandDiscrete  = "slave_master_on_demand_discrete"
	SchedulerClockBased               = "clock_based_scheduler"
	DefaultSchedulerName              = SchedulerClockBased
	DefaultMainClockName              = ClockLocalSystemRealtime
	DefaultStepSize                   = 100 * time.Millisecond
	DefaultTimeFactor         float64 = 1.0
	DefaultTimeUpdateTimeout          = 5 * time.Second
	MinTimeUpdateTimeout              = time.Millisecond
	DefaultSyncCycleTime              = 100 * time.Millisecond
	DefaultMaxMissedSyncs             = 10
)

// EventID 主時鐘轉送給從屬端的事件編號
type EventID int32

const (
	EventTimeUpdateBefore EventID = 1 // 時間更新前
	EventTimeUpdating     EventID = 2 // 時間更新中
	EventTimeUpdateAfter  EventID = 3 // 時間更新後
	EventTimeReset        EventID = 4 // 時間重置
)

func (e EventID) String() string {
	switch e {
	case EventTimeUpdateBefore:
		return "time_update_before"
	case EventTimeUpdating:
		return "time_updating"
	case EventTimeUpdateAfter:
		return "time_update_after"
	case EventTimeReset:
		return "time_reset"
	default:
		return "unknown(" + strconv.Itoa(int(e)) + ")"
	}
}

// Flag 回傳事件對應的訂閱位元
func (e EventID) Flag() EventIDFlag {
	switch e {
	case EventTimeUpdateBefore:
		return FlagTimeUpdateBefore
	case EventTimeUpdating:
		return FlagTimeUpdating
	case EventTimeUpdateAfter:
		return FlagTimeUpdateAfter
	case EventTimeReset:
		return FlagTimeReset
	default:
		return 0
	}
}

// EventIDFlag 從屬端訂閱的事件位元集合
type EventIDFlag int32

const (
	FlagTimeUpdateBefore EventIDFlag = 0x01
	FlagTimeUpdating     EventIDFlag = 0x02
	FlagTimeUpdateAfter  EventIDFlag = 0x04
	FlagTimeReset        EventIDFlag = 0x08

	FlagsAll = FlagTimeUpdateBefore | FlagTimeUpdating | FlagTimeUpdateAfter | FlagTimeReset
)

// Has 檢查是否訂閱了指定事件
func (f EventIDFlag) Has(other EventIDFlag) bool {
	return other != 0 && f&other == other
}

// ViolationStrategy 任務執行違規時的處理策略
type ViolationStrategy string

const (
	StrategyIgnoreRuntimeViolation ViolationStrategy = "ignore_runtime_violation"
	StrategyWarnAboutRuntime       ViolationStrategy = "warn_about_runtime_violation"
	StrategySkipOutputPublish      ViolationStrategy = "skip_output_publish"
	StrategySkipCycle              ViolationStrategy = "skip_cycle"
	StrategyAbortOnViolation       ViolationStrategy = "abort"
)

// ParseViolationStrategy 解析設定檔中的策略字串
func ParseViolationStrategy(s string) (ViolationStrategy, error) {
	switch v := ViolationStrategy(s); v {
	case StrategyIgnoreRuntimeViolation, StrategyWarnAboutRuntime,
		StrategySkipOutputPublish, StrategySkipCycle, StrategyAbortOnViolation:
		return v, nil
	case "":
		return StrategyIgnoreRuntimeViolation, nil
	}
	return "", NewInvalidArgument("unknown runtime violation strategy %q", s)
}

// JobConfiguration 任務排程設定
type JobConfiguration struct {
	CycleSimTime             Timestamp         `json:"cycle_sim_time" yaml:"cycle_sim_time"`
	DelaySimTime             Timestamp         `json:"delay_sim_time" yaml:"delay_sim_time"`
	MaxRuntimeRealTime       *time.Duration    `json:"max_runtime_real_time,omitempty" yaml:"max_runtime_real_time,omitempty"`
	RuntimeViolationStrategy ViolationStrategy `json:"runtime_violation_strategy" yaml:"runtime_violation_strategy"`
}

// Validate 檢查設定是否合法
func (c JobConfiguration) Validate() error {
	if c.CycleSimTime < 0 {
		return NewInvalidArgument("cycle time must not be negative, got %s", c.CycleSimTime)
	}
	if c.DelaySimTime < 0 {
		return NewInvalidArgument("delay must not be negative, got %s", c.DelaySimTime)
	}
	if c.MaxRuntimeRealTime != nil && *c.MaxRuntimeRealTime < 0 {
		return NewInvalidArgument("max runtime must not be negative, got %s", *c.MaxRuntimeRealTime)
	}
	_, err := ParseViolationStrategy(string(c.RuntimeViolationStrategy))
	return err
}

// TriggerKind 任務觸發方式
type TriggerKind string

const (
	TriggerClock TriggerKind = "clock_triggered"
	TriggerData  TriggerKind = "data_triggered"
)

// JobInfo 任務描述
type JobInfo struct {
	Name    string           `json:"name"`
	Trigger TriggerKind      `json:"trigger"`
	Signals []string         `json:"signals,omitempty"` // 資料觸發任務監聽的訊號名稱
	Config  JobConfiguration `json:"config"`
}

// JobExecuteResult 單次任務執行的結果
type JobExecuteResult struct {
	SimulationTime Timestamp
	DataInErr      error
	ExecuteErr     error
	DataOutErr     error
	Runtime        time.Duration
}

// ExecuteError 單一階段的錯誤統計
type ExecuteError struct {
	ErrorCount     uint64    `json:"error_count"`
	LastError      string    `json:"last_error,omitempty"`
	SimulationTime Timestamp `json:"simulation_time"`
}

// RuntimeStats 任務執行時間統計（由直方圖計算）
type RuntimeStats struct {
	Count int64         `json:"count"`
	P50   time.Duration `json:"p50"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// JobHealth 任務健康狀態
type JobHealth struct {
	JobName        string       `json:"job_name"`
	SimulationTime Timestamp    `json:"simulation_time"`
	DataIn         ExecuteError `json:"data_in"`
	Execute        ExecuteError `json:"execute"`
	DataOut        ExecuteError `json:"data_out"`
	Runtime        RuntimeStats `json:"runtime"`
}

// HealthSnapshot 健康快照，停止時寫入磁碟供 status 指令讀取
type HealthSnapshot struct {
	Participant string      `json:"participant"`
	Clock       string      `json:"clock"`
	SimTime     Timestamp   `json:"sim_time"`
	Jobs        []JobHealth `json:"jobs"`
	SchemaVer   int         `json:"schema_ver"`
	TakenAt     int64       `json:"taken_at"` // Unix 毫秒
}

// SlaveInfo 主時鐘端記錄的從屬端狀態
type SlaveInfo struct {
	Name       string      `json:"name"`
	Flags      EventIDFlag `json:"flags"`
	Active     bool        `json:"active"`
	LastSynced Timestamp   `json:"last_synced"`
}
