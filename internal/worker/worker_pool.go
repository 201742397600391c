// ============================================================================
// simclock Worker Pool - 任務執行執行緒池
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理多個 Worker goroutine 的生命週期，執行排程器派發的任務
//
// 設計模式:
//   採用 Worker Pool 模式：
//   1. 固定數量的 Worker goroutine 持續運行
//   2. 通過共享的任務 channel 分發任務
//   3. 可選的完成通知 channel，讓同步執行器等待一個子步驟結束
//   4. 延遲提交（PostAt）與週期提交（PostPeriodic）回傳 Handle，可取消
//
// 架構組件:
//   ┌─────────────┐
//   │ Scheduler   │ --Post()/PostWithCompletion()--> taskCh
//   └─────────────┘
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh
//   │  │Worker 3│←── taskCh
//   │  └────────┘ │
//   │  timers ────┼──> Post() (PostAt / PostPeriodic)
//   └─────────────┘
//
// 生命週期:
//   1. NewPool() - 創建 Pool
//   2. Start(n) - 啟動 n 個 Worker goroutines
//   3. Post(...) - 提交任務
//   4. Stop() - 通知停止，等待執行中的任務完成，丟棄尚未開始的任務
//   5. Start(n) - 停止後可以重新啟動（排程器每次 start 都會重新啟動）
//
// 並發控制:
//   - taskCh 永不關閉，Stop 只關閉 stopCh，避免向已關閉 channel 發送
//   - RWMutex: 提交者持有讀鎖直到送出，Stop 取得寫鎖後才關閉 stopCh
//   - 被丟棄任務的完成 channel 也會關閉，等待者不會永久阻塞
//
// ============================================================================

package worker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示當前 Pool 已關閉，無法提交新任務
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted 表示 Pool 尚未啟動，無法提交任務
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolAlreadyStarted 重複啟動
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	// ErrInvalidPeriod 週期必須大於零
	ErrInvalidPeriod = errors.New("period must be positive")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表 Worker 池，管理多個並發的 Worker
type Pool struct {
	bufferSize int
	workers    []*Worker
	taskCh     chan Task
	stopCh     chan struct{}
	timers     map[Handle]chan struct{} // 尚未觸發或週期性提交的取消通道
	wg         sync.WaitGroup           // Worker goroutines
	timerWg    sync.WaitGroup           // 計時 goroutines
	started    bool
	stopped    bool
	mu         sync.RWMutex
	stats      poolStats
	log        *slog.Logger
}

// NewPool 建立新的 Worker Pool
// 參數：
//   - bufferSize: 任務通道的緩衝大小
func NewPool(bufferSize int) *Pool {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Pool{
		bufferSize: bufferSize,
		workers:    make([]*Worker, 0),
		timers:     make(map[Handle]chan struct{}),
		log:        slog.With("component", "worker_pool"),
	}
}

// Start 啟動指定數量的 Worker
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	if workerCount < 1 {
		workerCount = 1
	}

	// 每次啟動使用新的 channel，讓 Pool 可以重新啟動
	p.taskCh = make(chan Task, p.bufferSize)
	p.stopCh = make(chan struct{})
	p.workers = p.workers[:0]

	for i := 0; i < workerCount; i++ {
		w := newWorker(i, p.taskCh, p.stopCh, &p.stats, p.log)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}

	p.started = true
	p.stopped = false
	return nil
}

// Post 提交任務，不等待完成
func (p *Pool) Post(name string, fn func()) error {
	return p.submit(Task{Name: name, Run: fn})
}

// PostWithCompletion 提交任務並回傳完成通知 channel
// channel 在任務執行完成或因 Stop 被丟棄時關閉
func (p *Pool) PostWithCompletion(name string, fn func()) (<-chan struct{}, error) {
	done := make(chan struct{})
	if err := p.submit(Task{Name: name, Run: fn, done: done}); err != nil {
		return nil, err
	}
	return done, nil
}

func (p *Pool) submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		if p.stopped {
			return ErrPoolClosed
		}
		return ErrPoolNotStarted
	}

	select {
	case p.taskCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// PostAt 在 delay 之後提交任務，回傳的 Handle 可在觸發前取消
func (p *Pool) PostAt(delay time.Duration, name string, fn func()) (Handle, error) {
	h, cancelCh, stopCh, err := p.addTimer()
	if err != nil {
		return "", err
	}

	go func() {
		defer p.timerWg.Done()
		defer p.removeTimer(h)

		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			if err := p.Post(name, fn); err != nil {
				p.log.Debug("delayed post dropped", "task", name, "error", err)
			}
		case <-cancelCh:
		case <-stopCh:
		}
	}()
	return h, nil
}

// PostPeriodic 每個 period 提交一次 fn，fn 回傳 false 時停止
func (p *Pool) PostPeriodic(period time.Duration, name string, fn func() bool) (Handle, error) {
	if period <= 0 {
		return "", ErrInvalidPeriod
	}
	h, cancelCh, stopCh, err := p.addTimer()
	if err != nil {
		return "", err
	}

	go func() {
		defer p.timerWg.Done()
		defer p.removeTimer(h)

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := p.Post(name, func() {
					if !fn() {
						p.Cancel(h)
					}
				})
				if err != nil {
					return
				}
			case <-cancelCh:
				return
			case <-stopCh:
				return
			}
		}
	}()
	return h, nil
}

// Cancel 取消尚未觸發的延遲提交或週期提交
// 已經開始執行的任務不受影響
func (p *Pool) Cancel(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.timers[h]
	if !ok {
		return false
	}
	delete(p.timers, h)
	close(ch)
	return true
}

func (p *Pool) addTimer() (Handle, chan struct{}, <-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		if p.stopped {
			return "", nil, nil, ErrPoolClosed
		}
		return "", nil, nil, ErrPoolNotStarted
	}
	h := newHandle()
	ch := make(chan struct{})
	p.timers[h] = ch
	p.timerWg.Add(1)
	return h, ch, p.stopCh, nil
}

func (p *Pool) removeTimer(h Handle) {
	p.mu.Lock()
	delete(p.timers, h)
	p.mu.Unlock()
}

// Stop 關閉 Worker Pool
// 關閉流程：
//  1. 取得寫鎖，確保沒有提交者正在送出任務
//  2. 關閉 stopCh，通知所有 Worker 與計時 goroutine
//  3. 等待執行中的任務完成
//  4. 丟棄佇列中尚未開始的任務
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.stopped = true
	close(p.stopCh)
	for h := range p.timers {
		delete(p.timers, h)
	}
	taskCh := p.taskCh
	p.mu.Unlock()

	p.wg.Wait()
	p.timerWg.Wait()

	for {
		select {
		case task := <-taskCh:
			p.stats.dropped.Add(1)
			if task.done != nil {
				close(task.done)
			}
		default:
			return
		}
	}
}

// GetWorkerCount 返回當前 Worker 數量
func (p *Pool) GetWorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

// Stats 返回累計統計
func (p *Pool) Stats() Stats {
	return Stats{
		Executed: p.stats.executed.Load(),
		Dropped:  p.stats.dropped.Load(),
		Panics:   p.stats.panics.Load(),
		Busy:     time.Duration(p.stats.busy.Load()),
	}
}
