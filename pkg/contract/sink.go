package contract

import (
	"context"
	"time"
)

// LineSink: 行级字节汇（有界接收窗口）。
// Accept 语义：行总是被接收（除非返回错误）；ok=false 表示接收后
// 下游缓冲已满——调用方在下一次 Accept 前必须恰好消费一次就绪
// 通知（Ready 返回即视为消费）。line 在 Accept 返回后可被复用。
type LineSink interface {
	Accept(ctx context.Context, line []byte) (ok bool, err error)
	// Ready 阻塞直至至少一个槽位释放。就绪是水平触发的条件：
	// 若槽位在 Accept 返回 false 与调用 Ready 之间已释放，
	// Ready 立即返回，不存在可错过的通知。
	Ready(ctx context.Context) error
	// Close 持久化并释放句柄；恰好调用一次，
	// 且仅在末批所有行均被确认接收之后。
	Close() error
	// Discard 终止写入并丢弃未提交内容，随后释放句柄。
	// 失败路径由持有者调用，代替 Close（Close 的前置条件不成立）；
	// 重复调用为 no-op。
	Discard() error
}

// ProgressLog: 面向操作者的进度记录器（外部协作者，
// 区别于 internal/diag 的诊断日志）。
type ProgressLog interface {
	// Backfilled 在一批全部写出后记录该批的记录数。
	Backfilled(count int)
	// Completed 在整体成功后记录总耗时；失败路径不调用。
	Completed(elapsed time.Duration)
}
