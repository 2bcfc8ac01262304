package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 把输入路径统一为正斜杠并 Clean，得到跨平台一致的 FileID。
// 不做绝对化：相对路径保持相对，产物路径因此与调用方给出的输入一一对应。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, `\`, "/")))
}
