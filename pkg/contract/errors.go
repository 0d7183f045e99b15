package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrInvalidInput: 输入结构无法解析或参数非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingIdx: 记录缺少 idx 字段（输入校验失败）；errors.Is 可匹配 ErrInvalidInput。
	ErrMissingIdx = fmt.Errorf("%w: record missing idx", ErrInvalidInput)
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrExternal: 外部命令（调度器/入口程序）失败。
	ErrExternal = errors.New("external call failed")
)
