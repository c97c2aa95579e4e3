package filesystem

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"

	"backfill/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Window: 接收窗口行数。连续接收 Window 行后 Accept 返回
	// ok=false（缓冲满）；Ready 冲刷缓冲并重开整个窗口。
	// <=0 使用默认 64。
	Window int `yaml:"window"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。输出到 STDOUT（dest="-"）时忽略。
	Atomic *bool `yaml:"atomic,omitempty"`
	// PermFile: 可选权限；为 0 表示使用实现默认 0644。
	PermFile os.FileMode `yaml:"perm_file,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `yaml:"buf_size,omitempty"`
}

// Sink 将行写入目标文件（或 STDOUT），带有界接收窗口。
// 窗口模拟下游容量：满窗即“拒绝”，Ready 的冲刷即“槽位释放”——
// 就绪是同步可检查的条件，不存在可错过的通知。
type Sink struct {
	dest    string
	stdout  bool
	atomic  bool
	permF   os.FileMode
	f       *os.File
	tmpPath string
	bw      *bufio.Writer
	window  int
	used    int
	closed  bool
}

// New 创建并打开文件系统 Sink。dest 为 "-" 时写 STDOUT。
// 原子模式下先写同目录临时文件，Close 时 rename 到 dest。
func New(dest string, opts *Options) (*Sink, error) {
	if dest == "" {
		return nil, errors.New("sink: empty output path")
	}
	window := 64
	atomic := true
	perm := os.FileMode(0o644)
	bsz := 64 * 1024
	if opts != nil {
		if opts.Window > 0 {
			window = opts.Window
		}
		if opts.Atomic != nil {
			atomic = *opts.Atomic
		}
		if opts.PermFile != 0 {
			perm = opts.PermFile
		}
		if opts.BufSize > 0 {
			bsz = opts.BufSize
		}
	}

	s := &Sink{dest: dest, atomic: atomic, permF: perm, window: window}
	if dest == "-" {
		s.stdout = true
		s.atomic = false
		s.bw = bufio.NewWriterSize(os.Stdout, bsz)
		return s, nil
	}
	if s.atomic {
		tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
		if err != nil {
			return nil, err
		}
		_ = os.Chmod(tmp.Name(), perm)
		s.f = tmp
		s.tmpPath = tmp.Name()
	} else {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
		if err != nil {
			return nil, err
		}
		s.f = f
	}
	s.bw = bufio.NewWriterSize(s.f, bsz)
	return s, nil
}

var _ contract.LineSink = (*Sink)(nil)

// Accept 接收一行（总是接收，除非出错）；窗口用尽时返回 ok=false。
// line 在返回后可被调用方复用。
func (s *Sink) Accept(ctx context.Context, line []byte) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if s.closed {
		return false, errors.New("sink: accept after close")
	}
	if _, err := s.bw.Write(line); err != nil {
		return false, err
	}
	s.used++
	if s.used >= s.window {
		return false, nil
	}
	return true, nil
}

// Ready 冲刷写缓冲并重开接收窗口。冲刷完成即槽位释放，
// 返回时就绪条件必然成立。
func (s *Sink) Ready(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}
	s.used = 0
	return nil
}

// Close 冲刷、落盘并（原子模式下）rename 到目标路径。
// 由持有者恰好调用一次；重复调用为 no-op。
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.bw.Flush(); err != nil {
		s.discardTmp()
		return err
	}
	if s.stdout {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		s.discardTmp()
		_ = s.f.Close()
		return err
	}
	if err := s.f.Close(); err != nil {
		s.discardTmp()
		return err
	}
	if s.atomic {
		if err := osReplace(s.tmpPath, s.dest); err != nil {
			s.discardTmp()
			return err
		}
		// 最佳努力：在部分平台同步父目录，提升崩溃安全性
		_ = syncDir(filepath.Dir(s.dest))
	}
	return nil
}

// Discard 终止写入：关闭句柄并丢弃未提交的临时文件，目标不被触碰。
// 非原子模式下已写入目标的字节留在原处（失败路径不做回收）。
func (s *Sink) Discard() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stdout {
		return nil
	}
	err := s.f.Close()
	s.discardTmp()
	return err
}

func (s *Sink) discardTmp() {
	if s.atomic && s.tmpPath != "" {
		_ = os.Remove(s.tmpPath)
		s.tmpPath = ""
	}
}
