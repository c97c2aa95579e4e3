package line

import (
	"context"
	"fmt"

	"backfill/pkg/contract"
)

// Formatter 将 Batch 逐行写入 LineSink。
// 恢复规则：第 i 行被接收但返回 ok=false 时，游标已推进到 i+1 并
// 在此处挂起（等待一次就绪通知）；恢复后从 i+1 继续。游标跨越
// 挂起点存活，既不重写已接收的行，也不跳过未写的行。
type Formatter struct {
	// lineBuf 在批之间复用；LineSink 约定不保留 line 引用。
	lineBuf []byte
}

// New 创建行 Formatter。
func New() *Formatter { return &Formatter{} }

var _ contract.Formatter = (*Formatter)(nil)

// Format 写出一批：每条记录一行（'\n' 终结），按 Record 顺序；
// 整批确认后上报一次进度。
func (f *Formatter) Format(ctx context.Context, b contract.Batch, sink contract.LineSink, progress contract.ProgressLog) error {
	if len(b.Records) == 0 {
		return fmt.Errorf("%w: empty batch %d", contract.ErrInvariantViolation, b.BatchIndex)
	}
	for i := 0; i < len(b.Records); {
		f.lineBuf = append(f.lineBuf[:0], b.Records[i].Text...)
		f.lineBuf = append(f.lineBuf, '\n')
		ok, err := sink.Accept(ctx, f.lineBuf)
		if err != nil {
			return fmt.Errorf("sink accept (batch %d, line %d): %w", b.BatchIndex, i, err)
		}
		// 行已被接收：游标推进到 i+1，再决定是否挂起
		i++
		if !ok {
			if err := sink.Ready(ctx); err != nil {
				return fmt.Errorf("sink ready (batch %d, line %d): %w", b.BatchIndex, i, err)
			}
		}
	}
	if progress != nil {
		progress.Backfilled(len(b.Records))
	}
	return nil
}
