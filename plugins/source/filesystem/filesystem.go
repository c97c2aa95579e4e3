package filesystem

import (
	"context"
	"errors"
	"io"
	"os"

	"backfill/pkg/contract"
)

// Options 为 FileSystem Source 的可选配置（最小必要）。
type Options struct {
	// ChunkSize 为单块读取字节数。默认 64KiB。
	// 块边界无语义：Splitter 必须对任意切块产生同一记录序列。
	ChunkSize int `yaml:"chunk_size"`
}

// Source 实现基于文件系统与 STDIN 的块源。
// path 为 "-" 时读取 STDIN，Iterate 不关闭 STDIN 句柄。
type Source struct {
	path  string
	chunk int
}

// New 创建 FileSystem Source。
func New(path string, opts *Options) (*Source, error) {
	if path == "" {
		return nil, errors.New("source: empty input path")
	}
	const defaultChunk = 64 * 1024
	c := defaultChunk
	if opts != nil && opts.ChunkSize > 0 {
		c = opts.ChunkSize
	}
	return &Source{path: path, chunk: c}, nil
}

var _ contract.Source = (*Source)(nil)

// Iterate 按到达顺序逐块回调，直到 EOF 或 yield 返回错误。
// 每块独立分配并随 yield 移交所有权（下游可跨 goroutine 持有）。
func (s *Source) Iterate(ctx context.Context, yield func(contract.Chunk) error) error {
	var r io.Reader
	if s.path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(s.path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		buf := make([]byte, s.chunk)
		n, err := r.Read(buf)
		if n > 0 {
			if yerr := yield(contract.Chunk(buf[:n])); yerr != nil {
				return yerr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
