package diag

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Progress: 进度日志（外部协作者约定的固定行格式）。
// - 每批一行："Back-filling <count> account numbers"
// - 成功收尾一行："Completed in <elapsed>"
// 失败路径不写收尾行；已写出的进度行不回收。
type Progress struct {
	mu sync.Mutex
	bw *bufio.Writer
	c  io.Closer // 为 nil 时 Close 不关闭底层（例如 stderr）
}

// NewProgress 打开（或截断）path 指向的进度日志文件。
// path 为 "-" 时写 stderr，Close 不关闭底层句柄。
func NewProgress(path string) (*Progress, error) {
	if path == "-" {
		return &Progress{bw: bufio.NewWriter(os.Stderr)}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Progress{bw: bufio.NewWriter(f), c: f}, nil
}

// NewProgressWriter 将进度写入任意 w（测试用）。
func NewProgressWriter(w io.Writer) *Progress {
	return &Progress{bw: bufio.NewWriter(w)}
}

// Backfilled 记录一批的记录数。
func (p *Progress) Backfilled(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.bw, "Back-filling %d account numbers\n", count)
}

// Completed 记录总耗时。
func (p *Progress) Completed(elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.bw, "Completed in %s\n", elapsed)
}

// Close 冲刷并关闭底层句柄（恰好一次由持有者调用）。
func (p *Progress) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ferr := p.bw.Flush()
	if p.c != nil {
		if cerr := p.c.Close(); cerr != nil {
			return cerr
		}
		p.c = nil
	}
	return ferr
}
