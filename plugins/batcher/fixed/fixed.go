package fixed

import (
	"context"
	"fmt"

	"backfill/pkg/contract"
)

// Batcher 将任意大小的记录组重组为定长批。
// 内部缓冲在两次 Next 之间保持原位：切批循环可在任意批边界
// 挂起（例如下游缓冲满），并在就绪后从同一位置继续，而非从头重试。
type Batcher struct {
	size int

	buf  []contract.Record
	next int64
	// expect: 下一条应到达的全局 Index（连续性校验）。
	expect contract.Index
}

// New 创建定长 Batcher。size 为每批记录数，必须 > 0。
func New(size int) (*Batcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", contract.ErrInvalidInput, size)
	}
	return &Batcher{size: size}, nil
}

var _ contract.Batcher = (*Batcher)(nil)

// Push 追加一组记录（组大小任意，可为空）。
// 校验 Index 自 0 严格连续，防止上游丢失/乱序被静默吸收。
func (b *Batcher) Push(ctx context.Context, recs []contract.Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	for _, r := range recs {
		if r.Index != b.expect {
			return fmt.Errorf("%w: record index %d, expect %d", contract.ErrInvariantViolation, r.Index, b.expect)
		}
		b.expect++
	}
	b.buf = append(b.buf, recs...)
	return nil
}

// Next 切出下一满批；缓冲不足一批时返回 false。
// 返回的 Records 为独立副本，不与内部缓冲共享底层数组。
func (b *Batcher) Next() (contract.Batch, bool) {
	if len(b.buf) < b.size {
		return contract.Batch{}, false
	}
	out := make([]contract.Record, b.size)
	copy(out, b.buf[:b.size])
	b.buf = b.buf[b.size:]
	if len(b.buf) == 0 {
		// 释放已切空的底层数组
		b.buf = nil
	}
	batch := contract.Batch{BatchIndex: b.next, Records: out}
	b.next++
	return batch, true
}

// Flush 结算残余为末批（长度 < 批大小）；空缓冲不出批。
func (b *Batcher) Flush() (contract.Batch, bool) {
	if len(b.buf) == 0 {
		return contract.Batch{}, false
	}
	out := make([]contract.Record, len(b.buf))
	copy(out, b.buf)
	b.buf = nil
	batch := contract.Batch{BatchIndex: b.next, Records: out}
	b.next++
	return batch, true
}
