package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"backfill/pkg/contract"
	bfx "backfill/plugins/batcher/fixed"
	fln "backfill/plugins/formatter/line"
	sln "backfill/plugins/splitter/line"
)

// 通用桩件 ----------------------------------------------------

// memSource 将字符串按固定块大小切块回调。
type memSource struct {
	data  string
	chunk int
}

func (s *memSource) Iterate(ctx context.Context, yield func(contract.Chunk) error) error {
	size := s.chunk
	if size <= 0 {
		size = 4
	}
	for off := 0; off < len(s.data); off += size {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		end := off + size
		if end > len(s.data) {
			end = len(s.data)
		}
		buf := make([]byte, end-off)
		copy(buf, s.data[off:end])
		if err := yield(contract.Chunk(buf)); err != nil {
			return err
		}
	}
	return nil
}

// memSink 收集行；window 行满后 Accept 返回 ok=false。
// gate 非 nil 时 Accept 先阻塞等待 gate 关闭（模拟卡住的下游）。
type memSink struct {
	window int
	gate   chan struct{}

	mu       sync.Mutex
	lines    []string
	used     int
	closes   int
	discards int
	readies  int
}

func (s *memSink) Accept(ctx context.Context, line []byte) (bool, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, string(line))
	if s.window <= 0 {
		return true, nil
	}
	s.used++
	if s.used >= s.window {
		return false, nil
	}
	return true, nil
}

func (s *memSink) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readies++
	s.used = 0
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *memSink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discards++
	return nil
}

func (s *memSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

type memProgress struct {
	mu        sync.Mutex
	counts    []int
	completed int
}

func (p *memProgress) Backfilled(count int) {
	p.mu.Lock()
	p.counts = append(p.counts, count)
	p.mu.Unlock()
}

func (p *memProgress) Completed(time.Duration) {
	p.mu.Lock()
	p.completed++
	p.mu.Unlock()
}

func mkComponents(t *testing.T, src contract.Source, batchSize int) Components {
	t.Helper()
	spl, err := sln.New(nil)
	if err != nil {
		t.Fatalf("splitter: %v", err)
	}
	bat, err := bfx.New(batchSize)
	if err != nil {
		t.Fatalf("batcher: %v", err)
	}
	return Components{Source: src, Splitter: spl, Batcher: bat, Formatter: fln.New()}
}

// TestRunWorkedExample 测试 5 条记录批大小 2 的端到端结果
func TestRunWorkedExample(t *testing.T) {
	src := &memSource{data: "1\n2\n3\n4\n5\n", chunk: 3}
	sink := &memSink{window: 64}
	prog := &memProgress{}
	r := NewRunner()
	err := r.Run(context.Background(), mkComponents(t, src, 2),
		Collaborators{Sink: sink, Progress: prog},
		Settings{BufferDepth: 1, Readiness: ReadinessChannel}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(sink.snapshot(), ""); got != "1\n2\n3\n4\n5\n" {
		t.Fatalf("expect 1..5 lines, got %q", got)
	}
	want := []int{2, 2, 1}
	if len(prog.counts) != len(want) {
		t.Fatalf("expect progress %v, got %v", want, prog.counts)
	}
	for i := range want {
		if prog.counts[i] != want[i] {
			t.Fatalf("progress %d: expect %d, got %d", i, want[i], prog.counts[i])
		}
	}
	if prog.completed != 1 {
		t.Fatalf("expect exactly one completion entry, got %d", prog.completed)
	}
	if sink.closes != 1 || sink.discards != 0 {
		t.Fatalf("expect single commit without discard, closes=%d discards=%d", sink.closes, sink.discards)
	}
	st := r.Status()
	if st.Source != StateClosed || st.Splitter != StateClosed || st.Batcher != StateClosed || st.Formatter != StateClosed {
		t.Fatalf("expect all stages closed, got %+v", st)
	}
}

// TestRunConservationSlowSink 测试慢汇+浅缓冲下全量保序送达
func TestRunConservationSlowSink(t *testing.T) {
	var sb strings.Builder
	const total = 100
	for i := 0; i < total; i++ {
		fmt.Fprintf(&sb, "acct-%03d\n", i)
	}
	src := &memSource{data: sb.String(), chunk: 7}
	// window=1: 每行之后都需要一次就绪
	sink := &memSink{window: 1}
	r := NewRunner()
	err := r.Run(context.Background(), mkComponents(t, src, 3),
		Collaborators{Sink: sink, Progress: &memProgress{}},
		Settings{BufferDepth: 1, Readiness: ReadinessChannel}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := sink.snapshot()
	if len(lines) != total {
		t.Fatalf("expect %d lines, got %d", total, len(lines))
	}
	for i, l := range lines {
		if want := fmt.Sprintf("acct-%03d\n", i); l != want {
			t.Fatalf("line %d: expect %q, got %q", i, want, l)
		}
	}
}

// TestRunEdgeTruncation 对照测试：边沿就绪策略在卡住的下游面前
// 以成功结束但丢行（闭合缺陷的可观察形态）
func TestRunEdgeTruncation(t *testing.T) {
	var sb strings.Builder
	const total = 100
	for i := 0; i < total; i++ {
		fmt.Fprintf(&sb, "acct-%03d\n", i)
	}
	gate := make(chan struct{})
	src := &memSource{data: sb.String(), chunk: 16}
	sink := &memSink{gate: gate}
	r := NewRunner()

	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background(), mkComponents(t, src, 1),
			Collaborators{Sink: sink, Progress: &memProgress{}},
			Settings{BufferDepth: 1, Readiness: ReadinessEdge}, nil)
	}()

	// 上游各阶段在 edge 策略下从不等待下游：待其全部自认关闭后
	// 再放行卡住的汇。
	deadline := time.After(5 * time.Second)
	for {
		st := r.Status()
		if st.Source == StateClosed && st.Splitter == StateClosed && st.Batcher == StateClosed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("upstream stages did not close: %+v", st)
		case <-time.After(time.Millisecond):
		}
	}
	close(gate)

	err := <-done
	if err != nil {
		t.Fatalf("edge run reported failure: %v", err)
	}
	got := len(sink.snapshot())
	if got >= total {
		t.Fatalf("expect truncated output, got all %d lines", got)
	}
	if got == 0 {
		t.Fatalf("expect some lines delivered before truncation")
	}
}

// TestRunMalformedTail 测试未终结尾部导致整体失败且汇仍被关闭
func TestRunMalformedTail(t *testing.T) {
	src := &memSource{data: "1\n2\n3", chunk: 2}
	sink := &memSink{window: 64}
	r := NewRunner()
	err := r.Run(context.Background(), mkComponents(t, src, 10),
		Collaborators{Sink: sink, Progress: &memProgress{}},
		Settings{BufferDepth: 1, Readiness: ReadinessChannel}, nil)
	if !errors.Is(err, contract.ErrMalformedInput) {
		t.Fatalf("expect ErrMalformedInput, got %v", err)
	}
	// 失败路径不提交：丢弃恰好一次，绝不 Close
	if sink.discards != 1 || sink.closes != 0 {
		t.Fatalf("expect discard without commit, discards=%d closes=%d", sink.discards, sink.closes)
	}
	if st := r.Status(); st.Splitter != StateFailed {
		t.Fatalf("expect splitter failed, got %+v", st)
	}
}

// TestRunCanceled 测试预先取消的 ctx 返回取消错误
func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &memSource{data: "1\n2\n", chunk: 2}
	err := Run(ctx, mkComponents(t, src, 2),
		Collaborators{Sink: &memSink{window: 8}, Progress: &memProgress{}},
		Settings{BufferDepth: 1, Readiness: ReadinessChannel}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

// TestRunSanity 测试缺组件/非法深度在启动前拒绝
func TestRunSanity(t *testing.T) {
	src := &memSource{data: "x\n"}
	comp := mkComponents(t, src, 1)
	if err := Run(context.Background(), Components{}, Collaborators{Sink: &memSink{}}, Settings{BufferDepth: 1}, nil); err == nil {
		t.Fatalf("expect error for missing components")
	}
	if err := Run(context.Background(), comp, Collaborators{}, Settings{BufferDepth: 1}, nil); err == nil {
		t.Fatalf("expect error for missing sink")
	}
	if err := Run(context.Background(), comp, Collaborators{Sink: &memSink{}}, Settings{BufferDepth: 0}, nil); err == nil {
		t.Fatalf("expect error for zero buffer depth")
	}
}

// TestRunEmptyInput 测试空输入零批成功
func TestRunEmptyInput(t *testing.T) {
	src := &memSource{data: ""}
	sink := &memSink{window: 8}
	prog := &memProgress{}
	err := Run(context.Background(), mkComponents(t, src, 10),
		Collaborators{Sink: sink, Progress: prog},
		Settings{BufferDepth: 1, Readiness: ReadinessChannel}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.snapshot()) != 0 {
		t.Fatalf("expect no output lines")
	}
	if len(prog.counts) != 0 {
		t.Fatalf("expect no per-batch progress, got %v", prog.counts)
	}
	if prog.completed != 1 {
		t.Fatalf("expect completion entry on empty success")
	}
}
