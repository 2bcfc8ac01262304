package contract

import (
	"context"
	"io"
)

// ArtifactID: 输出工件标识，与 FileID 同一表示（输入 ID + 扩展名，STDIN 为 "stdin"）。
type ArtifactID = FileID

// Writer: 把一个请求的格式化译文流式写到目标介质。
// 同一 ArtifactID 只有一个写者；按字节透传不改写内容；
// r 返回错误（解码中止）时不得留下看似完整的工件；ctx 结束须尽快返回。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
