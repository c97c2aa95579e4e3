package contract

import "context"

// Source: 输入源抽象（文件/STDIN）。
// 约束：
// 1) 流式读取，按到达顺序逐块回调；块大小任意；
// 2) 不做解码与按行解析，仅提供字节；
// 3) 无内部并发；yield 返回非 nil 立即终止遍历并透传该错误；
// 4) 每个 Chunk 独立分配，随 yield 移交所有权。
type Source interface {
	Iterate(ctx context.Context, yield func(Chunk) error) error
}
