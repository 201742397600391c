package snapshot

// ============================================================================
// 職責說明：
// 1. 將參與者的健康報告與時鐘狀態寫成 JSON 快照檔
// 2. 使用原子性寫入（temp file + rename）防止讀到半寫入的檔案
// 3. 載入時驗證 schema 版本，供 `simclock status` 使用
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// SchemaVersion 目前的快照格式版本
const SchemaVersion = 1

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
	ErrSnapshotNotFound    = errors.New("snapshot file not found")
)

// Source 提供快照內容
type Source func() types.HealthSnapshot

// Manager 快照管理器
type Manager struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewManager 建立快照管理器，path 為空時所有寫入皆為 no-op
func NewManager(path string) *Manager {
	return &Manager{path: path, now: time.Now}
}

// Enabled reports whether a snapshot path is configured.
func (m *Manager) Enabled() bool {
	return m.path != ""
}

// Write 原子性寫入快照
//
// 流程：
// 1. 寫入同目錄的臨時檔案（.tmp）
// 2. os.Rename 替換原始檔案
func (m *Manager) Write(data types.HealthSnapshot) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data.SchemaVer = SchemaVersion
	if data.TakenAt == 0 {
		data.TakenAt = m.now().UnixMilli()
	}
	if data.Jobs == nil {
		data.Jobs = []types.JobHealth{}
	}

	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// WriteFrom 取得 src 的內容後寫入
func (m *Manager) WriteFrom(src Source) error {
	if !m.Enabled() {
		return nil
	}
	return m.Write(src())
}

// Load 載入快照
//
// 檔案不存在時回傳 ErrSnapshotNotFound（與首次啟動不同，status 需要區分）
func (m *Manager) Load() (types.HealthSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var data types.HealthSnapshot
	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, fmt.Errorf("%w: %s", ErrSnapshotNotFound, m.path)
		}
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	return data, nil
}

// Exists 檢查快照檔案是否存在
func (m *Manager) Exists() bool {
	if !m.Enabled() {
		return false
	}
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath 取得快照檔案路徑
func (m *Manager) GetPath() string {
	return m.path
}
