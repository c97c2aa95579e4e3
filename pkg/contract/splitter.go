package contract

import "context"

// Splitter: 将字节块序列拆分为有序 Record 序列并分配 Index。
// 实现持有跨块的 Carry 状态（至多一条未终结记录的前缀）：
// - Split 仅返回已完整终结的记录；未终结的尾部成为新的 Carry；
// - Flush 在输入结束时结算 Carry：空则返回 nil；非空默认视为
//   ErrMalformedInput（分隔符从未到达）。
// 约束：
// 1) 不重排、不丢失、不重复；Index 自 0 严格递增；
// 2) 拆分结果与块边界无关：同一输入任意切块产生同一记录序列；
// 3) 同步、无内部并发；Carry 与 Index 在调用间推进（非幂等）。
type Splitter interface {
	Split(ctx context.Context, c Chunk) ([]Record, error)
	Flush(ctx context.Context) ([]Record, error)
}
