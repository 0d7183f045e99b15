package contract

import (
	"context"
	"io"
)

// ArtifactID: 与 FileID 等价的持久化工件标识（语义别名）。
type ArtifactID = FileID

// Writer: 将序列化结果以流式方式持久化到目标介质（文件系统/对象存储等）。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// Staged: 已写入临时位置、尚未对外可见的工件。
type Staged interface {
	// Commit 将临时工件替换到目标位置。
	Commit() error
	// Discard 删除临时工件；Commit 之后调用为 no-op。
	Discard() error
}

// Stager: 可选扩展接口。实现方先把全部工件写入临时位置，
// 编排层在所有暂存成功后统一提交，任一失败则全部丢弃。
type Stager interface {
	Stage(ctx context.Context, id ArtifactID, r io.Reader) (Staged, error)
}
