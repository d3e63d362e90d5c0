package order

import (
	"fmt"
	"sync"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 校验交易所回报的订单状态推进是否合法。
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legal := []StateTransition{
		{StatusUntriggered, StatusNew},
		{StatusUntriggered, StatusCanceled},
		{StatusUntriggered, StatusExpired},

		{StatusNew, StatusOpen},
		{StatusNew, StatusPartial},
		{StatusNew, StatusFilled},
		{StatusNew, StatusCanceled},
		{StatusNew, StatusRejected},
		{StatusNew, StatusExpired},

		{StatusOpen, StatusPartial},
		{StatusOpen, StatusFilled},
		{StatusOpen, StatusCanceled},
		{StatusOpen, StatusExpired},

		{StatusPartial, StatusFilled},
		{StatusPartial, StatusCanceled},
		{StatusPartial, StatusExpired},

		// 终态不能转换（filled, canceled, rejected, expired）
	}
	for _, t := range legal {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法，相同状态视为幂等。
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否可以撤单
func (sm *StateMachine) CanCancel(status Status) bool {
	switch status {
	case StatusNew, StatusOpen, StatusPartial, StatusUntriggered:
		return true
	default:
		return false
	}
}
