package engine

import "fmt"

// LoopState 报价循环状态
type LoopState int

const (
	// StateNoQuote 没有挂单
	StateNoQuote LoopState = iota
	// StateQuoteResting 报价挂单中
	StateQuoteResting
	// StateUnwinding 报价成交，正在平仓
	StateUnwinding
)

// String 返回状态名称
func (s LoopState) String() string {
	switch s {
	case StateNoQuote:
		return "NO_QUOTE"
	case StateQuoteResting:
		return "QUOTE_RESTING"
	case StateUnwinding:
		return "UNWINDING"
	default:
		return "UNKNOWN"
	}
}

var loopTransitions = map[LoopState][]LoopState{
	StateNoQuote:      {StateQuoteResting},
	StateQuoteResting: {StateNoQuote, StateUnwinding},
	StateUnwinding:    {StateNoQuote},
}

// validateLoopTransition 相同状态视为幂等。
func validateLoopTransition(from, to LoopState) error {
	if from == to {
		return nil
	}
	for _, next := range loopTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("illegal loop transition: %s -> %s", from, to)
}
