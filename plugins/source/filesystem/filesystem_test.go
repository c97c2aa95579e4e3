package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"backfill/pkg/contract"
)

// TestIterateWholeFile 测试块拼接等于文件内容
func TestIterateWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	content := []byte("1\n2\n3\n4\n5\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// 小块强制多次读取
	s, err := New(path, &Options{ChunkSize: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var got []byte
	var chunks int
	err = s.Iterate(context.Background(), func(c contract.Chunk) error {
		got = append(got, c...)
		chunks++
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("expect %q, got %q", content, got)
	}
	if chunks < 2 {
		t.Fatalf("expect multiple chunks, got %d", chunks)
	}
}

// TestIterateChunkOwnership 测试每块独立分配（延迟持有安全）
func TestIterateChunkOwnership(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(path, []byte("aaabbbccc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _ := New(path, &Options{ChunkSize: 3})
	var held []contract.Chunk
	if err := s.Iterate(context.Background(), func(c contract.Chunk) error {
		held = append(held, c)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	joined := string(held[0]) + string(held[1]) + string(held[2])
	if joined != "aaabbbccc" {
		t.Fatalf("chunks aliased shared buffer: %q", joined)
	}
}

// TestIterateYieldError 测试 yield 错误原样上传
func TestIterateYieldError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _ := New(path, nil)
	sentinel := errors.New("downstream stop")
	err := s.Iterate(context.Background(), func(contract.Chunk) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expect sentinel, got %v", err)
	}
}

// TestIterateMissingFile 测试文件不存在报 I/O 错误
func TestIterateMissingFile(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "absent"), nil)
	err := s.Iterate(context.Background(), func(contract.Chunk) error { return nil })
	var perr *os.PathError
	if !errors.As(err, &perr) {
		t.Fatalf("expect *os.PathError, got %v", err)
	}
}

// TestIterateCanceled 测试取消的 ctx 中止迭代
func TestIterateCanceled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _ := New(path, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Iterate(ctx, func(contract.Chunk) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

// TestNewEmptyPath 测试空路径被拒绝
func TestNewEmptyPath(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatalf("expect error for empty path")
	}
}
