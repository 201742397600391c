package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 執行 CLI 命令並以 atexit.Exit 結束，讓已註冊的停止函式執行
// 3. 處理頂層 panic
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"

	"github.com/ChuLiYu/simclock/internal/cli"
)

// 由 CI 注入：go build -ldflags "-X main.version=1.0.0"
var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "嚴重錯誤: %v\n", r)
			atexit.Exit(1)
		}
	}()

	cli.Version = version
	atexit.Exit(cli.Execute())
}
