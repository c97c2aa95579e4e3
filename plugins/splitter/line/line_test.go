package line

import (
	"context"
	"errors"
	"testing"

	"backfill/pkg/contract"
)

func collect(t *testing.T, s *Splitter, chunks ...string) []contract.Record {
	t.Helper()
	ctx := context.Background()
	var out []contract.Record
	for _, c := range chunks {
		recs, err := s.Split(ctx, contract.Chunk(c))
		if err != nil {
			t.Fatalf("split: %v", err)
		}
		out = append(out, recs...)
	}
	recs, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	return append(out, recs...)
}

func texts(recs []contract.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Text
	}
	return out
}

// TestSplitBasic 测试单块内多条记录
func TestSplitBasic(t *testing.T) {
	s, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	recs := collect(t, s, "1\n2\n3\n")
	want := []string{"1", "2", "3"}
	if len(recs) != len(want) {
		t.Fatalf("expect %d records, got %d", len(want), len(recs))
	}
	for i, w := range want {
		if recs[i].Text != w {
			t.Fatalf("record %d: expect %q, got %q", i, w, recs[i].Text)
		}
		if recs[i].Index != contract.Index(i) {
			t.Fatalf("record %d: expect index %d, got %d", i, i, recs[i].Index)
		}
	}
}

// TestSplitChunkBoundaryIndependence 测试切块方式不影响记录序列
func TestSplitChunkBoundaryIndependence(t *testing.T) {
	input := "alpha\nbeta\ngamma\ndelta\n"
	splits := [][]string{
		{input},
		{"alpha\nbe", "ta\ngam", "ma\ndelta\n"},
		{"alpha", "\n", "beta\ngamma\nde", "lta", "\n"},
	}
	// 逐字节切块
	var oneByOne []string
	for i := 0; i < len(input); i++ {
		oneByOne = append(oneByOne, input[i:i+1])
	}
	splits = append(splits, oneByOne)

	want := []string{"alpha", "beta", "gamma", "delta"}
	for si, chunks := range splits {
		s, err := New(nil)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		got := texts(collect(t, s, chunks...))
		if len(got) != len(want) {
			t.Fatalf("split %d: expect %d records, got %d", si, len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("split %d record %d: expect %q, got %q", si, i, want[i], got[i])
			}
		}
	}
}

// TestSplitEmptyRecords 测试空记录（相邻分隔符）保留
func TestSplitEmptyRecords(t *testing.T) {
	s, _ := New(nil)
	got := texts(collect(t, s, "\n\na\n\n"))
	want := []string{"", "", "a", ""}
	if len(got) != len(want) {
		t.Fatalf("expect %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: expect %q, got %q", i, want[i], got[i])
		}
	}
}

// TestFlushMalformedTail 测试未终结尾部报协议错误
func TestFlushMalformedTail(t *testing.T) {
	s, _ := New(nil)
	ctx := context.Background()
	if _, err := s.Split(ctx, contract.Chunk("1\n2\n3")); err != nil {
		t.Fatalf("split: %v", err)
	}
	_, err := s.Flush(ctx)
	if !errors.Is(err, contract.ErrMalformedInput) {
		t.Fatalf("expect ErrMalformedInput, got %v", err)
	}
}

// TestFlushAllowFinal 测试 AllowFinal 将尾部作为最后一条记录
func TestFlushAllowFinal(t *testing.T) {
	s, err := New(&Options{AllowFinal: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := texts(collect(t, s, "1\n2\n3"))
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: expect %q, got %q", i, want[i], got[i])
		}
	}
}

// TestFlushEmptyInput 测试空输入零记录成功
func TestFlushEmptyInput(t *testing.T) {
	s, _ := New(nil)
	recs := collect(t, s)
	if len(recs) != 0 {
		t.Fatalf("expect 0 records, got %d", len(recs))
	}
}

// TestSplitAfterFlush 测试 Flush 后 Split 违反不变量
func TestSplitAfterFlush(t *testing.T) {
	s, _ := New(nil)
	ctx := context.Background()
	if _, err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	_, err := s.Split(ctx, contract.Chunk("x\n"))
	if !errors.Is(err, contract.ErrInvariantViolation) {
		t.Fatalf("expect ErrInvariantViolation, got %v", err)
	}
}

// TestSplitCustomSep 测试自定义单字节分隔符
func TestSplitCustomSep(t *testing.T) {
	s, err := New(&Options{Sep: ";"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := texts(collect(t, s, "a;b;c;"))
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: expect %q, got %q", i, want[i], got[i])
		}
	}
}

// TestNewBadSep 测试多字节分隔符被拒绝
func TestNewBadSep(t *testing.T) {
	if _, err := New(&Options{Sep: "ab"}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("expect ErrInvalidInput, got %v", err)
	}
}

// TestSplitCanceled 测试取消的 ctx 立即返回
func TestSplitCanceled(t *testing.T) {
	s, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Split(ctx, contract.Chunk("x\n")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

// TestCarryOwnsCopy 测试 Carry 不引用调用方块内存
func TestCarryOwnsCopy(t *testing.T) {
	s, _ := New(nil)
	ctx := context.Background()
	buf := []byte("par")
	if _, err := s.Split(ctx, contract.Chunk(buf)); err != nil {
		t.Fatalf("split: %v", err)
	}
	// 调用方复用块内存
	copy(buf, "XXX")
	recs, err := s.Split(ctx, contract.Chunk("tial\n"))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(recs) != 1 || recs[0].Text != "partial" {
		t.Fatalf("expect [partial], got %v", texts(recs))
	}
}
