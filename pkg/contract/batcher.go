package contract

import "context"

// Batcher: 将任意大小的记录组重组为定长 Batch。
// 约束：
//  1. 不重排、不丢失、不重复；
//  2. Push 追加记录后由 Next 逐批取出：内部缓冲在两次 Next 之间
//     保持原位，切批循环可在任意批边界挂起并从该点恢复，
//     而非从头重试；
//  3. 满批恰好为配置的批大小；Flush 将残余（< 批大小）结算为
//     最后一批；空缓冲不出批。
type Batcher interface {
	Push(ctx context.Context, recs []Record) error
	// Next 切出下一满批；缓冲不足一批时返回 false。
	Next() (Batch, bool)
	// Flush 结算残余为末批（可能更短）；无残余时返回 false。
	Flush() (Batch, bool)
}
