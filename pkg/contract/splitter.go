package contract

import (
	"context"
	"io"
)

// Splitter: 将单个输入字节流包装为惰性的 TranslationRequest。
// 约束：
// 1) 不跨输入合并；
// 2) Sentence.ID 严格递增且稳定（0..n-1）；
// 3) 不预读全部输入（允许无限输入，如 STDIN）；
// 4) 返回的请求只由一个读取者使用。
type Splitter interface {
	Open(ctx context.Context, fileID FileID, r io.Reader) (TranslationRequest, error)
}
