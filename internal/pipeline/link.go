package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Readiness 选择阶段间的就绪通知策略。
type Readiness int

const (
	// ReadinessChannel: 修正实现。有界 channel 的阻塞发送即背压：
	// 缓冲满时生产者挂起，槽位释放即确定性恢复。就绪是构造上
	// 水平触发的条件，不存在可错过的通知窗口。
	ReadinessChannel Readiness = iota
	// ReadinessEdge: 复刻原始缺陷的边沿触发实现，仅供对照测试。
	// 发送从不阻塞：被拒单元暂存 pending 并等待一次性 drain 边沿；
	// 关闭在生产循环退出时立即生效，pending 被丢弃。
	ReadinessEdge
)

func (r Readiness) String() string {
	switch r {
	case ReadinessChannel:
		return "channel"
	case ReadinessEdge:
		return "edge"
	default:
		return "unknown"
	}
}

// ParseReadiness 解析配置字符串。
func ParseReadiness(s string) (Readiness, error) {
	switch s {
	case "", "channel":
		return ReadinessChannel, nil
	case "edge":
		return ReadinessEdge, nil
	default:
		return 0, fmt.Errorf("unknown readiness strategy: %q", s)
	}
}

// link: 阶段间有界缓冲。
// 约定：send/close 由唯一生产者调用，close 在全部 send 之后；
// recv 由唯一消费者调用。
type link[T any] interface {
	send(ctx context.Context, v T) error
	recv(ctx context.Context) (T, bool, error)
	close()
	// accepted: 已进入下游缓冲（确认接收）的单元数。
	accepted() int64
	// lost: 关闭时被丢弃、永远无法送达的单元数。
	// 修正实现恒为 0；edge 实现在 pending 非空时关闭会非零。
	lost() int64
}

// newLink 按策略构造链路。st 为生产者的状态标记（可为 nil）。
func newLink[T any](r Readiness, depth int, st *stageState) link[T] {
	if depth < 1 {
		depth = 1
	}
	if r == ReadinessEdge {
		return &edgeLink[T]{
			ch:     make(chan T, depth),
			notify: make(chan struct{}),
			done:   make(chan struct{}),
		}
	}
	return &chanLink[T]{ch: make(chan T, depth), st: st}
}

// chanLink: 修正实现。
// “已确认接收”与“send 返回”重合：send 返回当且仅当单元进入
// 下游缓冲，因此生产循环退出即全量排空，关闭不可能截断。
type chanLink[T any] struct {
	ch  chan T
	acc atomic.Int64
	st  *stageState
}

func (l *chanLink[T]) send(ctx context.Context, v T) error {
	select {
	case l.ch <- v:
		l.acc.Add(1)
		return nil
	default:
	}
	// 缓冲满：挂起直至槽位释放或取消
	prev := l.st.get()
	l.st.set(StateAwaitingReadiness)
	select {
	case l.ch <- v:
		l.acc.Add(1)
		l.st.set(prev)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *chanLink[T]) recv(ctx context.Context) (T, bool, error) {
	select {
	case v, ok := <-l.ch:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

func (l *chanLink[T]) close()          { close(l.ch) }
func (l *chanLink[T]) accepted() int64 { return l.acc.Load() }
func (l *chanLink[T]) lost() int64     { return 0 }

// edgeLink: 边沿触发（原缺陷）实现。
// send 从不阻塞：缓冲满时单元进入 pending，并启动一次性 resume
// 等待 drain 边沿。边沿经无缓冲 notify 以非阻塞方式投递——
// resume 未就位即丢失（经典 missed-wakeup 窗口）。
// close 在生产循环退出时立即生效：pending 单元计入 lost 并丢弃，
// 这正是“最后一次推送未被拒绝即视为排空”的闭合缺陷。
type edgeLink[T any] struct {
	ch     chan T
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending []T
	waiting bool
	closed  bool

	acc   atomic.Int64
	lostN atomic.Int64
}

func (l *edgeLink[T]) send(ctx context.Context, v T) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		select {
		case l.ch <- v:
			l.acc.Add(1)
			return nil
		default:
		}
	}
	// 缓冲满（或已有积压）：暂存并等待一次 drain 边沿。
	// 调用方不被告知需要等待——缺陷的根源。
	l.pending = append(l.pending, v)
	if !l.waiting {
		l.waiting = true
		go l.resume()
	}
	return nil
}

// resume: pending 的一次性恢复者。每收到一个 drain 边沿就把
// 尽可能多的 pending 晋升进缓冲；pending 清空后退出。
func (l *edgeLink[T]) resume() {
	for {
		select {
		case <-l.notify:
		case <-l.done:
			return
		}
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		// 保序晋升：仅在缓冲有空位时逐个放入
		for len(l.pending) > 0 {
			select {
			case l.ch <- l.pending[0]:
				l.pending = l.pending[1:]
				l.acc.Add(1)
				continue
			default:
			}
			break
		}
		if len(l.pending) == 0 {
			l.waiting = false
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
	}
}

func (l *edgeLink[T]) recv(ctx context.Context) (T, bool, error) {
	select {
	case v, ok := <-l.ch:
		if ok {
			// drain 边沿：无人等待即丢失
			select {
			case l.notify <- struct{}{}:
			default:
			}
		}
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

func (l *edgeLink[T]) close() {
	l.mu.Lock()
	l.closed = true
	if n := len(l.pending); n > 0 {
		l.lostN.Add(int64(n))
		l.pending = nil
	}
	close(l.ch)
	close(l.done)
	l.mu.Unlock()
}

func (l *edgeLink[T]) accepted() int64 { return l.acc.Load() }
func (l *edgeLink[T]) lost() int64     { return l.lostN.Load() }
