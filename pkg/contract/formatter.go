package contract

import "context"

// Formatter: 将一个 Batch 逐行序列化到 LineSink，并上报逐批进度。
// 约束：
//  1. 批内按 Record 顺序逐行写出，每行以 '\n' 终结；
//  2. 第 i 行 Accept 返回 ok=false 时，游标停在 i+1：恢复后
//     不得重写已接收的行，也不得跳过未写的行——游标必须跨越
//     挂起点存活；
//  3. 整批确认后调用一次 progress.Backfilled(len(b.Records))；
//  4. 同步、无内部并发；错误直接上抛，不做重试。
type Formatter interface {
	Format(ctx context.Context, b Batch, sink LineSink, progress ProgressLog) error
}
