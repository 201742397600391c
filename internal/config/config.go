// ============================================================================
// simclock 設定
// ============================================================================
//
// Package: internal/config
// 文件: config.go
// 功能: 載入參與者設定檔
//
// 載入順序:
//   1. Default() 內建預設值
//   2. YAML 檔案（configs/default.yaml）
//   3. 環境變數 SIMCLOCK_*（可由 .env 檔提供，見 LoadEnvFile）
//   4. Validate()
//
// Properties() 將設定攤平成 "section/key" 形式，與同步協定文件使用的
// 鍵名一致（scheduling/scheduler、clock_synchronization/timing_master ...）
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/simclock/internal/clock"
	"github.com/ChuLiYu/simclock/internal/clocksync"
	"github.com/ChuLiYu/simclock/internal/jobregistry"
	"github.com/ChuLiYu/simclock/internal/scheduler"
	"github.com/ChuLiYu/simclock/pkg/types"
)

// EnvPrefix 環境變數前綴
const EnvPrefix = "SIMCLOCK_"

type ParticipantConfig struct {
	Name string `yaml:"name"`
}

type ClockConfig struct {
	MainClock         string        `yaml:"main_clock"`
	StepSize          time.Duration `yaml:"step_size"`
	TimeFactor        float64       `yaml:"time_factor"`
	TimeUpdateTimeout time.Duration `yaml:"time_update_timeout"`
}

type SyncConfig struct {
	TimingMaster        string        `yaml:"timing_master"`
	SyncCycleTime       time.Duration `yaml:"sync_cycle_time"`
	MaxMissedSyncs      int           `yaml:"max_missed_syncs"`
	BeforeAndAfterEvent bool          `yaml:"before_and_after_event"`
	CallTimeout         time.Duration `yaml:"call_timeout"`
}

type SchedulingConfig struct {
	Scheduler  string `yaml:"scheduler"`
	MaxWorkers int    `yaml:"max_workers"`
}

// JobOverride 覆寫程式中已註冊任務的排程設定
type JobOverride struct {
	CycleSimTime             *time.Duration `yaml:"cycle_sim_time"`
	DelaySimTime             *time.Duration `yaml:"delay_sim_time"`
	MaxRuntimeRealTime       *time.Duration `yaml:"max_runtime_real_time"`
	RuntimeViolationStrategy *string        `yaml:"runtime_violation_strategy"`
}

type JobRegistryConfig struct {
	Jobs map[string]JobOverride `yaml:"jobs"`
}

type TransportConfig struct {
	ListenAddr string            `yaml:"listen_addr"`
	Peers      map[string]string `yaml:"peers"` // participant name -> gRPC address
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SnapshotConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Config 參與者完整設定
type Config struct {
	Participant          ParticipantConfig `yaml:"participant"`
	Clock                ClockConfig       `yaml:"clock"`
	ClockSynchronization SyncConfig        `yaml:"clock_synchronization"`
	Scheduling           SchedulingConfig  `yaml:"scheduling"`
	JobRegistry          JobRegistryConfig `yaml:"job_registry"`
	Transport            TransportConfig   `yaml:"transport"`
	Metrics              MetricsConfig     `yaml:"metrics"`
	Snapshot             SnapshotConfig    `yaml:"snapshot"`
	Log                  LogConfig         `yaml:"log"`
}

// Default 回傳內建預設值
func Default() *Config {
	return &Config{
		Participant: ParticipantConfig{Name: "participant"},
		Clock: ClockConfig{
			MainClock:         types.DefaultMainClockName,
			StepSize:          types.DefaultStepSize,
			TimeFactor:        types.DefaultTimeFactor,
			TimeUpdateTimeout: types.DefaultTimeUpdateTimeout,
		},
		ClockSynchronization: SyncConfig{
			SyncCycleTime:  types.DefaultSyncCycleTime,
			MaxMissedSyncs: types.DefaultMaxMissedSyncs,
			CallTimeout:    clocksync.DefaultCallTimeout,
		},
		Scheduling: SchedulingConfig{
			Scheduler:  types.DefaultSchedulerName,
			MaxWorkers: scheduler.DefaultMaxWorkers,
		},
		Transport: TransportConfig{
			ListenAddr: ":50051",
			Peers:      map[string]string{},
		},
		Metrics:  MetricsConfig{Enabled: true, Addr: ":9090"},
		Snapshot: SnapshotConfig{Path: "data/health.json", Interval: 10 * time.Second},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load 讀取設定檔並套用環境變數覆寫；path 為空時只使用預設值與環境變數
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile 將 .env 檔載入環境變數，已存在的變數不會被覆寫；
// 檔案不存在時忽略
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return types.NewInvalidArgument("%s%s: %v", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("PARTICIPANT_NAME", &c.Participant.Name)
	str("MAIN_CLOCK", &c.Clock.MainClock)
	str("TIMING_MASTER", &c.ClockSynchronization.TimingMaster)
	str("SCHEDULER", &c.Scheduling.Scheduler)
	str("LISTEN_ADDR", &c.Transport.ListenAddr)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("SNAPSHOT_PATH", &c.Snapshot.Path)
	str("LOG_LEVEL", &c.Log.Level)

	if err := dur("SYNC_CYCLE_TIME", &c.ClockSynchronization.SyncCycleTime); err != nil {
		return err
	}
	if err := dur("STEP_SIZE", &c.Clock.StepSize); err != nil {
		return err
	}

	// SIMCLOCK_PEERS=master=localhost:50051,other=host:50052
	if v, ok := os.LookupEnv(EnvPrefix + "PEERS"); ok {
		if c.Transport.Peers == nil {
			c.Transport.Peers = map[string]string{}
		}
		for _, pair := range strings.Split(v, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, addr, found := strings.Cut(pair, "=")
			if !found || name == "" || addr == "" {
				return types.NewInvalidArgument("%sPEERS: malformed entry %q", EnvPrefix, pair)
			}
			c.Transport.Peers[name] = addr
		}
	}
	return nil
}

// Validate 檢查設定值
func (c *Config) Validate() error {
	var errs []error
	if c.Participant.Name == "" {
		errs = append(errs, types.NewInvalidArgument("participant/name must not be empty"))
	}
	if err := c.ClockService().Validate(); err != nil {
		errs = append(errs, err)
	}

	sc := c.ClockSynchronization
	if sc.SyncCycleTime <= 0 {
		errs = append(errs, types.NewInvalidArgument("clock_synchronization/sync_cycle_time must be positive, got %s", sc.SyncCycleTime))
	}
	if sc.MaxMissedSyncs < 1 {
		errs = append(errs, types.NewInvalidArgument("clock_synchronization/max_missed_syncs must be at least 1, got %d", sc.MaxMissedSyncs))
	}
	if sc.CallTimeout <= 0 {
		errs = append(errs, types.NewInvalidArgument("clock_synchronization/call_timeout must be positive, got %s", sc.CallTimeout))
	}
	if clocksync.IsSlaveClock(c.Clock.MainClock) {
		switch {
		case sc.TimingMaster == "":
			errs = append(errs, types.NewInvalidArgument("clock %q needs clock_synchronization/timing_master", c.Clock.MainClock))
		case sc.TimingMaster == c.Participant.Name:
			errs = append(errs, types.NewInvalidArgument("participant %q cannot be its own timing master", sc.TimingMaster))
		}
	}

	if c.Scheduling.Scheduler == "" {
		errs = append(errs, types.NewInvalidArgument("scheduling/scheduler must not be empty"))
	}
	if c.Scheduling.MaxWorkers < 1 {
		errs = append(errs, types.NewInvalidArgument("scheduling/max_workers must be at least 1, got %d", c.Scheduling.MaxWorkers))
	}
	for name, o := range c.JobRegistry.Jobs {
		if o.RuntimeViolationStrategy == nil {
			continue
		}
		if _, err := types.ParseViolationStrategy(*o.RuntimeViolationStrategy); err != nil {
			errs = append(errs, fmt.Errorf("job_registry/jobs/%s: %w", name, err))
		}
	}

	if c.Snapshot.Interval < 0 {
		errs = append(errs, types.NewInvalidArgument("snapshot/interval must not be negative, got %s", c.Snapshot.Interval))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "" && f != "text" && f != "json" {
		errs = append(errs, types.NewInvalidArgument("log/format must be text or json, got %q", f))
	}
	return errors.Join(errs...)
}

// SlogLevel 解析 log/level
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, types.NewInvalidArgument("log/level: %v", err)
	}
	return lvl, nil
}

// ClockService 轉換為時鐘服務設定
func (c *Config) ClockService() clock.Config {
	return clock.Config{
		MainClock:         c.Clock.MainClock,
		StepSize:          c.Clock.StepSize,
		TimeFactor:        c.Clock.TimeFactor,
		TimeUpdateTimeout: c.Clock.TimeUpdateTimeout,
	}
}

// ClockSync 轉換為時鐘同步服務設定
func (c *Config) ClockSync() clocksync.Config {
	sc := c.ClockSynchronization
	return clocksync.Config{
		TimingMaster:        sc.TimingMaster,
		SyncCycleTime:       sc.SyncCycleTime,
		MaxMissedSyncs:      sc.MaxMissedSyncs,
		BeforeAndAfterEvent: sc.BeforeAndAfterEvent,
		CallTimeout:         sc.CallTimeout,
		ParticipantName:     c.Participant.Name,
		MainClock:           c.Clock.MainClock,
	}
}

// SchedulerService 轉換為排程服務設定
func (c *Config) SchedulerService() scheduler.Config {
	return scheduler.Config{
		Scheduler:  c.Scheduling.Scheduler,
		MaxWorkers: c.Scheduling.MaxWorkers,
	}
}

// JobOverrides 轉換為任務註冊表的覆寫設定
func (c *Config) JobOverrides() map[string]jobregistry.Override {
	out := make(map[string]jobregistry.Override, len(c.JobRegistry.Jobs))
	for name, o := range c.JobRegistry.Jobs {
		out[name] = jobregistry.Override{
			CycleSimTime:             o.CycleSimTime,
			DelaySimTime:             o.DelaySimTime,
			MaxRuntimeRealTime:       o.MaxRuntimeRealTime,
			RuntimeViolationStrategy: o.RuntimeViolationStrategy,
		}
	}
	return out
}

// Properties 將設定攤平為 "section/key" -> 字串值
func (c *Config) Properties() map[string]string {
	sc := c.ClockSynchronization
	p := map[string]string{
		"participant/name":                             c.Participant.Name,
		"clock/main_clock":                             c.Clock.MainClock,
		"clock/step_size":                              c.Clock.StepSize.String(),
		"clock/time_factor":                            strconv.FormatFloat(c.Clock.TimeFactor, 'g', -1, 64),
		"clock/time_update_timeout":                    c.Clock.TimeUpdateTimeout.String(),
		"clock_synchronization/timing_master":          sc.TimingMaster,
		"clock_synchronization/sync_cycle_time":        sc.SyncCycleTime.String(),
		"clock_synchronization/max_missed_syncs":       strconv.Itoa(sc.MaxMissedSyncs),
		"clock_synchronization/before_and_after_event": strconv.FormatBool(sc.BeforeAndAfterEvent),
		"clock_synchronization/call_timeout":           sc.CallTimeout.String(),
		"scheduling/scheduler":                         c.Scheduling.Scheduler,
		"scheduling/max_workers":                       strconv.Itoa(c.Scheduling.MaxWorkers),
		"transport/listen_addr":                        c.Transport.ListenAddr,
		"metrics/enabled":                              strconv.FormatBool(c.Metrics.Enabled),
		"metrics/addr":                                 c.Metrics.Addr,
		"snapshot/path":                                c.Snapshot.Path,
		"snapshot/interval":                            c.Snapshot.Interval.String(),
		"log/level":                                    c.Log.Level,
		"log/format":                                   c.Log.Format,
	}
	for name, addr := range c.Transport.Peers {
		p["transport/peers/"+name] = addr
	}
	return p
}

// PropertyKeys 回傳排序後的鍵名
func PropertyKeys(p map[string]string) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
