package types

import (
	"errors"
	"fmt"
	"time"
)

// 錯誤類別，呼叫端以 errors.Is 判斷
var (
	ErrNotFound        = errors.New("not found")
	ErrResourceInUse   = errors.New("resource in use")
	ErrDuplicateName   = ErrResourceInUse
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTimeout         = errors.New("timeout")
	ErrAborted         = errors.New("aborted")
)

// NewNotFound 建立 NotFound 類錯誤
func NewNotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// NewInvalidState 建立 InvalidState 類錯誤
func NewInvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// NewInvalidArgument 建立 InvalidArgument 類錯誤
func NewInvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NewDuplicateName 建立名稱重複錯誤
func NewDuplicateName(kind, name string) error {
	return fmt.Errorf("%w: %s %q already registered", ErrDuplicateName, kind, name)
}

// AbortError 任務違反執行時間限制且策略為 abort 時回報
type AbortError struct {
	JobName string
	Reason  string        // 例如 "max runtime exceeded" 或 "previous activation still running"
	Overrun time.Duration // 超出限制的時間
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("job %q: %s, overrun %s: scheduler aborted", e.JobName, e.Reason, e.Overrun)
}

// Is 讓 errors.Is(err, ErrAborted) 成立
func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}
