package diag

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"labelsplit/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeInput     Code = "input"
	CodeInvariant Code = "invariant"
	CodeExternal  Code = "external"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrInvalidInput) {
		return CodeInput
	}
	if errors.Is(err, contract.ErrInvariantViolation) || errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var xerr *exec.ExitError
	if errors.Is(err, contract.ErrExternal) || errors.Is(err, exec.ErrNotFound) || errors.As(err, &xerr) {
		return CodeExternal
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var lerr *os.LinkError
	if errors.As(err, &lerr) {
		return CodeIO
	}
	return CodeUnknown
}

// Report 记录错误日志并累加错误指标；logger 可为 nil。
func Report(logger *Logger, comp, msg string, err error, fileID, job string) Code {
	code := Classify(err)
	if logger != nil {
		logger.ErrorWithKV(comp, string(code), msg, nil, fileID, job, map[string]string{"err": err.Error()})
	}
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
