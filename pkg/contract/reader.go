package contract

import (
	"context"
	"io"
)

// Reader: 源语料来源（文件、目录、STDIN）。
// 每个输入文件回调一次 yield，调用方将其包装为一个翻译请求；
// yield 成功返回后 ReadCloser 归调用方关闭。FileID 已规范化；
// Reader 只提供字节流，不切句，也不自行起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}
