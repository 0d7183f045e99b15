package contract

import "context"

// SplitParams: 划分参数。
// TestCount>0 时优先于 TestSize；否则要求 0<TestSize<1。
type SplitParams struct {
	Seed      uint64
	TestSize  float64
	TestCount int
}

// Splitter: 将去重后的 ID 集合划分为 train/test 两个不相交子集。
// 约束：
// 1) 结果是 (ids, Seed, TestSize/TestCount) 的确定性纯函数；
// 2) 随机源必须由 Seed 显式构造，不得依赖进程级全局随机状态；
// 3) 任一侧为空返回 ErrInvalidInput；
// 4) 无内部并发。
type Splitter interface {
	Split(ctx context.Context, ids []ID, p SplitParams) (Assignment, error)
}
