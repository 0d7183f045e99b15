package contract

import (
	"context"
	"io"
)

// Decoder: 将单文件字节流解析为有序 Record 序列。
// 约束：
// 1) 保持源文件中的记录顺序；
// 2) 任一记录缺少 idx 返回 ErrMissingIdx；
// 3) 结构无法解析返回包装 ErrInvalidInput 的错误；
// 4) 无内部并发、幂等。
type Decoder interface {
	Decode(ctx context.Context, fileID FileID, r io.Reader) ([]Record, error)
}

// Encoder: 将 Record 序列序列化为与输入同形的结构化字节流（每条记录一个数组元素/行）。
// 约束：同一输入必须产出字节一致的输出（确定性）。
type Encoder interface {
	Encode(ctx context.Context, recs []Record) (io.Reader, error)
	// Ext 返回建议的文件扩展名（含点，例如 ".json"）。
	Ext() string
}
