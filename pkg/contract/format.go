package contract

import "io"

// Formatter: 将按序位交付的译文逐条编码到输出流。
// 约束：
// 1) 每条输出以换行结束，失败的序位也产出一行（保持与输入逐行对齐）；
// 2) 不缓存、不重排，按调用顺序写出；
// 3) 写错误直接上抛。
type Formatter interface {
	Format(w io.Writer, tr Translation) error
}
