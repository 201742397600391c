// ============================================================================
// simclock 任務註冊表
// ============================================================================
//
// Package: internal/jobregistry
// 文件: job_registry.go
// 功能: 保存具名任務與其排程設定，供排程器在初始化時建立排程任務
//
// 狀態規則:
//   - 排程器初始化後註冊表被凍結（Freeze），新增或移除任務回傳 InvalidState
//   - 排程器反初始化時解除凍結（Thaw）
//   - 名稱唯一，重複新增回傳 ResourceInUse
//
// 並發安全:
//   - sync.RWMutex 只保護凍結狀態的檢查與 map 本身
//   - 排程熱路徑使用 Jobs() 取得的快照，不再持有鎖
//
// ============================================================================

package jobregistry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
)

var log = slog.With("component", "job_registry")

// Override 覆寫已註冊任務的設定，nil 欄位保持原值
type Override struct {
	CycleSimTime             *time.Duration
	DelaySimTime             *time.Duration
	MaxRuntimeRealTime       *time.Duration
	RuntimeViolationStrategy *string
}

// Registry 任務註冊表
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]Entry
	frozen bool
}

// New 建立空的註冊表
func New() *Registry {
	return &Registry{jobs: make(map[string]Entry)}
}

// AddJob 新增時間觸發任務
func (r *Registry) AddJob(name string, job Job, cfg types.JobConfiguration) error {
	return r.Add(job, ClockTriggered(name, cfg))
}

// AddDataTriggeredJob 新增資料觸發任務
func (r *Registry) AddDataTriggeredJob(name string, job Job, signals ...string) error {
	return r.Add(job, DataTriggered(name, signals...))
}

// Add 以完整描述新增任務
func (r *Registry) Add(job Job, info types.JobInfo) error {
	if job == nil {
		return types.NewInvalidArgument("job %q is nil", info.Name)
	}
	if err := validate(info); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return types.NewInvalidState("cannot add job %q while the scheduler is initialized", info.Name)
	}
	if _, ok := r.jobs[info.Name]; ok {
		return types.NewDuplicateName("job", info.Name)
	}
	r.jobs[info.Name] = Entry{Job: job, Info: info}
	log.Debug("job added", "job", info.Name, "trigger", info.Trigger)
	return nil
}

// RemoveJob 移除任務
func (r *Registry) RemoveJob(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return types.NewInvalidState("cannot remove job %q while the scheduler is initialized", name)
	}
	if _, ok := r.jobs[name]; !ok {
		return types.NewNotFound("job %q", name)
	}
	delete(r.jobs, name)
	return nil
}

// JobInfos 回傳所有任務描述的快照，依名稱排序
func (r *Registry) JobInfos() []types.JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]types.JobInfo, 0, len(r.jobs))
	for _, e := range r.jobs {
		infos = append(infos, e.Info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// JobInfo 回傳單一任務描述
func (r *Registry) JobInfo(name string) (types.JobInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[name]
	if !ok {
		return types.JobInfo{}, types.NewNotFound("job %q", name)
	}
	return e.Info, nil
}

// Jobs 回傳名稱到任務的快照
func (r *Registry) Jobs() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.jobs))
	for k, v := range r.jobs {
		out[k] = v
	}
	return out
}

// Names 回傳排序後的任務名稱
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Freeze 排程器初始化時呼叫
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Thaw 排程器反初始化時呼叫
func (r *Registry) Thaw() {
	r.mu.Lock()
	r.frozen = false
	r.mu.Unlock()
}

// Frozen 是否已凍結
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// ApplyOverrides 將設定檔中的覆寫套用到已註冊的任務
// 未註冊的名稱只記錄警告
func (r *Registry) ApplyOverrides(overrides map[string]Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return types.NewInvalidState("cannot reconfigure jobs while the scheduler is initialized")
	}

	for name, o := range overrides {
		e, ok := r.jobs[name]
		if !ok {
			log.Warn("configuration for unknown job ignored", "job", name)
			continue
		}
		info := e.Info
		if o.CycleSimTime != nil {
			info.Config.CycleSimTime = *o.CycleSimTime
		}
		if o.DelaySimTime != nil {
			info.Config.DelaySimTime = *o.DelaySimTime
		}
		if o.MaxRuntimeRealTime != nil {
			d := *o.MaxRuntimeRealTime
			info.Config.MaxRuntimeRealTime = &d
		}
		if o.RuntimeViolationStrategy != nil {
			s, err := types.ParseViolationStrategy(*o.RuntimeViolationStrategy)
			if err != nil {
				return err
			}
			info.Config.RuntimeViolationStrategy = s
		}
		if err := validate(info); err != nil {
			return err
		}
		e.Info = info
		r.jobs[name] = e
		log.Info("job configuration overridden", "job", name,
			"cycle", info.Config.CycleSimTime, "delay", info.Config.DelaySimTime)
	}
	return nil
}

func validate(info types.JobInfo) error {
	if info.Name == "" {
		return types.NewInvalidArgument("job name must not be empty")
	}
	if err := info.Config.Validate(); err != nil {
		return err
	}
	switch info.Trigger {
	case types.TriggerClock, "":
		if info.Config.CycleSimTime <= 0 {
			return types.NewInvalidArgument("job %q: cycle time must be positive, got %s",
				info.Name, info.Config.CycleSimTime)
		}
	case types.TriggerData:
		if len(info.Signals) == 0 {
			return types.NewInvalidArgument("data triggered job %q needs at least one signal", info.Name)
		}
	default:
		return types.NewInvalidArgument("job %q: unknown trigger %q", info.Name, info.Trigger)
	}
	return nil
}
