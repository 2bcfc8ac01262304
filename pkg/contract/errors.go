package contract

import "errors"

// 最小错误分类（用于上层策略判定与诊断）。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidInput: 输入非法（参数、选项、句子内容）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrMalformedWeights: 权重行格式错误（启动期致命）。
	ErrMalformedWeights = errors.New("malformed weights")
	// ErrDecodeFailed: 单句解码失败（搜索算法报错或 panic）。
	ErrDecodeFailed = errors.New("decode failed")
	// ErrClosed: 解码器已关闭，不再接受请求。
	ErrClosed = errors.New("decoder closed")
	// ErrUnknownFeature: 特征名未注册。
	ErrUnknownFeature = errors.New("unknown feature")
)
