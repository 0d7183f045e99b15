package contract

import "context"

// Assembler: 按 ID 集合从原始记录序列中选出子序列。
// 约束：
//  1. 仅保留 Idx 属于 keep 的记录；
//  2. 保持原始相对顺序；
//  3. 不修改输入切片（返回新切片，记录深拷贝）。
type Assembler interface {
	Assemble(ctx context.Context, recs []Record, keep map[ID]struct{}) ([]Record, error)
}
