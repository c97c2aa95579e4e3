package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"backfill/internal/diag"
	"backfill/pkg/contract"
)

// - 单点并发：仅此层管理并发与背压；原子组件均为同步、无内部并发。
// - 链式阶段：Source → Splitter → Batcher → Formatter，相邻阶段以
//   有界链路连接；控制流（就绪/背压）沿反方向传播。
// - 首错取消：任一阶段出错，记录首错并 cancel 整体；排空后返回该错误。
// - 闭合不变量：阶段仅在其推送的每个单元都被确认接收之后才算 Closed；
//   “排空”是显式核对的条件（链路 lost 计数），不从循环退出推断。

// Components 聚合运行所需的原子组件。
type Components struct {
	Source    contract.Source
	Splitter  contract.Splitter
	Batcher   contract.Batcher
	Formatter contract.Formatter
}

// Collaborators: 控制器独占持有的外部协作者。
// Sink 在 Run 终止时恰好关闭一次（成功或失败均执行）。
type Collaborators struct {
	Sink     contract.LineSink
	Progress contract.ProgressLog
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// BufferDepth: 每条链路的缓冲槽位数（>=1）。
	BufferDepth int
	// Readiness: 就绪通知策略（channel=修正；edge=原缺陷对照，
	// 仅作用于批交付链路）。
	Readiness Readiness
}

// Status 暴露各阶段的当前状态（诊断与测试用）。
type Status struct {
	Source    State
	Splitter  State
	Batcher   State
	Formatter State
}

// Runner 持有一次运行的阶段状态；Run 为一次性操作。
type Runner struct {
	src stageState
	spl stageState
	bat stageState
	fmt stageState
}

// NewRunner 创建空闲状态的 Runner。
func NewRunner() *Runner { return &Runner{} }

// Status 原子读取四个阶段的状态快照。
func (r *Runner) Status() Status {
	return Status{
		Source:    r.src.get(),
		Splitter:  r.spl.get(),
		Batcher:   r.bat.get(),
		Formatter: r.fmt.get(),
	}
}

// Run 执行完整流水线直至终态，返回单一结果（nil 或首错）。
// 成功时通过 Progress.Completed 记录总耗时；失败路径不写收尾行，
// 已写出的输出与进度行不回收。
func Run(ctx context.Context, comp Components, collab Collaborators, set Settings, logger *diag.Logger) error {
	return NewRunner().Run(ctx, comp, collab, set, logger)
}

func (r *Runner) Run(ctx context.Context, comp Components, collab Collaborators, set Settings, logger *diag.Logger) error {
	if err := sanity(comp, collab, set); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 首错收集：先到先得，后续错误丢弃（多为取消的级联）。
	var errMu sync.Mutex
	var firstErr error
	fail := func(comp string, st *stageState, err error) {
		st.set(StateFailed)
		errMu.Lock()
		record := firstErr == nil
		if record {
			firstErr = fmt.Errorf("%s: %w", comp, err)
		}
		errMu.Unlock()
		if record {
			if logger != nil && !errors.Is(err, context.Canceled) {
				logger.Error(comp, string(diag.Classify(err)), "first error", nil)
				diag.IncOp(comp, "error", "error")
				if code := diag.Classify(err); code != diag.CodeUnknown {
					diag.IncError(comp, string(code))
				}
			}
			cancel()
		}
	}

	// 缺陷位于交付边界（成批后的写出通知），不在取数侧：
	// 上游链路始终采用修正策略，edge 仅安装在批交付链路上——
	// 否则丢块会把截断变成拆分期的格式错误，对照即失效。
	chunks := newLink[contract.Chunk](ReadinessChannel, set.BufferDepth, &r.src)
	groups := newLink[[]contract.Record](ReadinessChannel, set.BufferDepth, &r.spl)
	batches := newLink[contract.Batch](set.Readiness, set.BufferDepth, &r.bat)

	var nChunks, nRecords, nGroups, nBatches, nLines atomic.Int64

	var wg sync.WaitGroup
	wg.Add(4)

	// Source 泵：外部源 → chunk 链路。
	go func() {
		defer wg.Done()
		defer chunks.close()
		r.src.set(StateAccepting)
		t := (*diag.Timer)(nil)
		if logger != nil {
			t = logger.Start("source", "iterate")
		}
		err := comp.Source.Iterate(ctx, func(c contract.Chunk) error {
			nChunks.Add(1)
			return chunks.send(ctx, c)
		})
		if err != nil {
			fail("source", &r.src, err)
			return
		}
		// 源无自身缓冲：遍历返回即冲刷完成
		r.src.set(StateFlushing)
		if t != nil {
			t.Finish("iterate", nChunks.Load())
			diag.IncOp("source", "finish", "success")
		}
		r.src.set(StateClosed)
	}()

	// Splitter 阶段：chunk → 记录组。
	go func() {
		defer wg.Done()
		defer groups.close()
		r.spl.set(StateAccepting)
		t := (*diag.Timer)(nil)
		if logger != nil {
			t = logger.Start("splitter", "split")
		}
		for {
			c, ok, err := chunks.recv(ctx)
			if err != nil {
				fail("splitter", &r.spl, err)
				return
			}
			if !ok {
				break
			}
			recs, err := comp.Splitter.Split(ctx, c)
			if err != nil {
				fail("splitter", &r.spl, fmt.Errorf("split: %w", err))
				return
			}
			if len(recs) > 0 {
				nRecords.Add(int64(len(recs)))
				nGroups.Add(1)
				if err := groups.send(ctx, recs); err != nil {
					fail("splitter", &r.spl, err)
					return
				}
			}
		}
		// 端点结算：Carry 必须为空或构成合法末记录
		r.spl.set(StateFlushing)
		recs, err := comp.Splitter.Flush(ctx)
		if err != nil {
			fail("splitter", &r.spl, fmt.Errorf("flush: %w", err))
			return
		}
		if len(recs) > 0 {
			nRecords.Add(int64(len(recs)))
			nGroups.Add(1)
			if err := groups.send(ctx, recs); err != nil {
				fail("splitter", &r.spl, err)
				return
			}
		}
		if t != nil {
			t.Finish("split", nRecords.Load())
			diag.IncOp("splitter", "finish", "success")
		}
		r.spl.set(StateClosed)
	}()

	// Batcher 阶段：记录组 → 定长批。
	go func() {
		defer wg.Done()
		defer batches.close()
		r.bat.set(StateAccepting)
		t := (*diag.Timer)(nil)
		if logger != nil {
			t = logger.Start("batcher", "make")
		}
		for {
			recs, ok, err := groups.recv(ctx)
			if err != nil {
				fail("batcher", &r.bat, err)
				return
			}
			if !ok {
				break
			}
			if err := comp.Batcher.Push(ctx, recs); err != nil {
				fail("batcher", &r.bat, fmt.Errorf("push: %w", err))
				return
			}
			// 切批循环：缓冲态在两次迭代间保持原位，挂起后从
			// 同一点恢复（send 内部等待就绪）
			for {
				b, ok := comp.Batcher.Next()
				if !ok {
					break
				}
				nBatches.Add(1)
				if err := batches.send(ctx, b); err != nil {
					fail("batcher", &r.bat, err)
					return
				}
			}
		}
		// 残余结算为末批（可能更短；绝不为空批）
		r.bat.set(StateFlushing)
		if b, ok := comp.Batcher.Flush(); ok {
			nBatches.Add(1)
			if err := batches.send(ctx, b); err != nil {
				fail("batcher", &r.bat, err)
				return
			}
		}
		if t != nil {
			t.Finish("make", nBatches.Load())
			diag.IncOp("batcher", "finish", "success")
		}
		r.bat.set(StateClosed)
	}()

	// Formatter 阶段：批 → 行（外部汇），逐批上报进度。
	go func() {
		defer wg.Done()
		r.fmt.set(StateAccepting)
		t := (*diag.Timer)(nil)
		if logger != nil {
			t = logger.Start("formatter", "format")
		}
		for {
			b, ok, err := batches.recv(ctx)
			if err != nil {
				fail("formatter", &r.fmt, err)
				return
			}
			if !ok {
				break
			}
			if logger != nil {
				logger.DebugStart("formatter", "batch", strconv.FormatInt(b.BatchIndex, 10), map[string]string{
					"records": strconv.Itoa(len(b.Records)),
				})
			}
			if err := comp.Formatter.Format(ctx, b, collab.Sink, collab.Progress); err != nil {
				fail("formatter", &r.fmt, err)
				return
			}
			nLines.Add(int64(len(b.Records)))
			if term := diag.GetTerminal(); term != nil {
				term.BatchDone(len(b.Records))
			}
		}
		// Formatter 无跨批缓冲；末批确认即冲刷完成
		r.fmt.set(StateFlushing)
		if t != nil {
			t.Finish("format", nLines.Load())
			diag.IncOp("formatter", "finish", "success")
		}
		r.fmt.set(StateClosed)
	}()

	wg.Wait()

	errMu.Lock()
	err := firstErr
	errMu.Unlock()

	// 汇句柄由控制器独占，恰好终结一次：成功路径 Close 提交；
	// 失败路径 Discard 丢弃未提交内容——Close 的前置条件
	// （末批所有行均被确认接收）不成立，提交即截断。
	if err != nil {
		_ = collab.Sink.Discard()
		return err
	}
	if cerr := collab.Sink.Close(); cerr != nil {
		return fmt.Errorf("sink close: %w", cerr)
	}

	// 显式排空核对：修正策略下任何链路不得有被丢弃的单元，
	// 且各链路确认接收数必须等于生产阶段的推送总数。
	// edge 策略刻意不做此核对——它正是被对照的闭合缺陷：
	// 成功结论建立在“循环退出且未见拒绝”之上，截断因此可见。
	if set.Readiness == ReadinessChannel {
		if n := chunks.lost() + groups.lost() + batches.lost(); n > 0 {
			return fmt.Errorf("%w: %d units dropped before close", contract.ErrInvariantViolation, n)
		}
		if chunks.accepted() != nChunks.Load() || groups.accepted() != nGroups.Load() || batches.accepted() != nBatches.Load() {
			return fmt.Errorf("%w: link acceptance mismatch (chunks %d/%d, groups %d/%d, batches %d/%d)",
				contract.ErrInvariantViolation,
				chunks.accepted(), nChunks.Load(),
				groups.accepted(), nGroups.Load(),
				batches.accepted(), nBatches.Load())
		}
	}

	if logger != nil {
		logger.InfoFinish("pipeline", "drained", start, nLines.Load())
	}
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	if collab.Progress != nil {
		collab.Progress.Completed(time.Since(start))
	}
	return nil
}

func sanity(c Components, collab Collaborators, s Settings) error {
	if c.Source == nil || c.Splitter == nil || c.Batcher == nil || c.Formatter == nil {
		return errors.New("pipeline: missing components")
	}
	if collab.Sink == nil {
		return errors.New("pipeline: missing sink")
	}
	if s.BufferDepth < 1 {
		return errors.New("pipeline: buffer depth must be >= 1")
	}
	return nil
}
