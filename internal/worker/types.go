package worker

import (
	"time"

	"github.com/rs/xid"
)

// Task 代表提交給 Pool 的一次執行
type Task struct {
	Name string        // 任務名稱，僅用於日誌
	Run  func()        // 實際執行的函式
	done chan struct{} // 完成通知，執行結束或被丟棄時關閉
}

// Handle 延遲或週期性提交的識別碼，可用於取消
type Handle string

func newHandle() Handle {
	return Handle(xid.New().String())
}

// Stats 累計執行統計
type Stats struct {
	Executed uint64        // 已執行完成的任務數
	Dropped  uint64        // 停止時被丟棄的任務數
	Panics   uint64        // 執行中發生 panic 的任務數
	Busy     time.Duration // Worker 累計忙碌時間
}
