package pipeline

import "sync/atomic"

// State 为阶段生命周期状态。
// 迁移：Idle → Accepting ⇄ AwaitingReadiness → Flushing ⇄
// AwaitingReadiness → Closed；任意状态可迁移到 Failed。
// Closed 的前置条件：该阶段推送下游的每个单元均已被确认接收，
// 且自身 Flush 完成——绝不因“冲刷循环退出且未见拒绝”而成立。
type State int32

const (
	StateIdle State = iota
	StateAccepting
	StateAwaitingReadiness
	StateFlushing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccepting:
		return "accepting"
	case StateAwaitingReadiness:
		return "awaiting_readiness"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stageState: 阶段状态标记（原子读写，供诊断与测试观察）。
type stageState struct {
	v atomic.Int32
}

func (s *stageState) set(st State) {
	if s == nil {
		return
	}
	s.v.Store(int32(st))
}

func (s *stageState) get() State {
	if s == nil {
		return StateIdle
	}
	return State(s.v.Load())
}
