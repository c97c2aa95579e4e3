package line

import (
	"bytes"
	"context"
	"fmt"

	"backfill/pkg/contract"
)

// Options 为按行 Splitter 的可选配置（最小必要）。
type Options struct {
	// Sep: 记录分隔符，恰好一个字节。默认 "\n"。
	Sep string `yaml:"sep"`
	// AllowFinal: 输入结束时将非空 Carry 作为最后一条（未终结）记录
	// 发出，而非报 ErrMalformedInput。默认 false（严格）。
	AllowFinal bool `yaml:"allow_final"`
}

// Splitter 将字节块序列拆分为按分隔符终结的记录。
// Carry 为跨块保留的未终结前缀；Index 自 0 连续分配。
type Splitter struct {
	sep        byte
	allowFinal bool

	carry []byte
	next  contract.Index
	done  bool
}

// New 创建按行 Splitter。
func New(opts *Options) (*Splitter, error) {
	sep := byte('\n')
	allow := false
	if opts != nil {
		if opts.Sep != "" {
			if len(opts.Sep) != 1 {
				return nil, fmt.Errorf("%w: sep must be a single byte, got %q", contract.ErrInvalidInput, opts.Sep)
			}
			sep = opts.Sep[0]
		}
		allow = opts.AllowFinal
	}
	return &Splitter{sep: sep, allowFinal: allow}, nil
}

var _ contract.Splitter = (*Splitter)(nil)

// Split 追加块内容并切出所有已终结的记录；尾部片段成为新 Carry。
// 空块合法且无副作用。Flush 之后不得再调用。
func (s *Splitter) Split(ctx context.Context, c contract.Chunk) ([]contract.Record, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if s.done {
		return nil, fmt.Errorf("%w: split after flush", contract.ErrInvariantViolation)
	}
	if len(c) == 0 {
		return nil, nil
	}

	var recs []contract.Record
	rest := []byte(c)
	for {
		i := bytes.IndexByte(rest, s.sep)
		if i < 0 {
			break
		}
		var text string
		if len(s.carry) > 0 {
			// 跨块记录：Carry 前缀 + 当前块内的终结段
			text = string(s.carry) + string(rest[:i])
			s.carry = s.carry[:0]
		} else {
			text = string(rest[:i])
		}
		recs = append(recs, contract.Record{Index: s.next, Text: text})
		s.next++
		rest = rest[i+1:]
	}
	if len(rest) > 0 {
		// 尾部未终结片段：Carry 必须持有自己的副本（块所有权即将失效）
		s.carry = append(s.carry, rest...)
	}
	return recs, nil
}

// Flush 在输入结束时结算 Carry。
// 严格模式下非空 Carry 即 ErrMalformedInput；AllowFinal 时将其
// 作为最后一条记录发出。重复调用返回 nil。
func (s *Splitter) Flush(ctx context.Context) ([]contract.Record, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if s.done {
		return nil, nil
	}
	s.done = true
	if len(s.carry) == 0 {
		return nil, nil
	}
	if !s.allowFinal {
		return nil, fmt.Errorf("%w: %d trailing bytes without separator", contract.ErrMalformedInput, len(s.carry))
	}
	rec := contract.Record{Index: s.next, Text: string(s.carry)}
	s.next++
	s.carry = nil
	return []contract.Record{rec}, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
