package contract

import "errors"

// 最小错误分类（哨兵）。
var (
	// ErrMalformedInput: 输入结束时存在未终结的尾部记录。
	ErrMalformedInput = errors.New("malformed input")
	// ErrInvalidInput: 调用方传入非法参数（通用哨兵）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvariantViolation: 领域不变量违例（丢失/重复/乱序）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)
