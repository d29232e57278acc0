package workflow

import (
	"fmt"

	"github.com/betbot/levercycle/internal/domain"
)

// State 工作流状态
type State string

const (
	StateStart     State = "Start"
	StateDeposited State = "Deposited"
	StateBorrowed  State = "Borrowed"
	StateSwapped   State = "Swapped"
	StateRepaid    State = "Repaid"
	StateSettled   State = "Settled"
	StateFailed    State = "Failed"
)

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

// 状态转换名称（对应 StepError.Step）
const (
	StepDeposit = "deposit"
	StepBorrow  = "borrow"
	StepSwap    = "swap"
	StepRepay   = "repay"
	StepSettle  = "settle"
)

// StepError 某个状态转换失败
// LastState 是失败前最后到达的状态：已完成的链上操作不会回滚，运维据此手动接续
type StepError struct {
	Step      string
	LastState State
	Kind      domain.ErrorKind
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (last state %s, kind %s): %v", e.Step, e.LastState, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepError(step string, last State, err error) *StepError {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.KindTransactionReverted
	}
	return &StepError{Step: step, LastState: last, Kind: kind, Err: err}
}
