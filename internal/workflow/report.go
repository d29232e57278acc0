package workflow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/levercycle/internal/domain"
)

// StepRecord 一次状态转换的记录
type StepRecord struct {
	Step     string           `json:"step"`
	From     State            `json:"from"`
	To       State            `json:"to"`
	TxHashes []string         `json:"txHashes,omitempty"`
	Position *domain.Position `json:"position,omitempty"`
	At       time.Time        `json:"at"`
}

// Report 一次运行的汇总结果
type Report struct {
	RunID   string         `json:"runId"`
	Account common.Address `json:"account"`
	State   State          `json:"state"`

	// 失败时：失败的转换、失败前最后到达的状态与错误类别
	FailedStep string           `json:"failedStep,omitempty"`
	LastState  State            `json:"lastState,omitempty"`
	ErrorKind  domain.ErrorKind `json:"errorKind,omitempty"`
	Error      string           `json:"error,omitempty"`
	TxHash     string           `json:"txHash,omitempty"` // 失败涉及的已发出交易（回滚或状态未知）

	Deposited        *big.Int           `json:"deposited,omitempty"`
	Borrowed         *big.Int           `json:"borrowed,omitempty"`
	Quote            *domain.PriceQuote `json:"quote,omitempty"`
	Swap             *domain.SwapResult `json:"swap,omitempty"`
	Repaid           *big.Int           `json:"repaid,omitempty"`
	RepayIterations  int                `json:"repayIterations"`
	ResidualDebt     *big.Int           `json:"residualDebt,omitempty"`     // 还款结束后剩余的债务（债务资产单位）
	ResidualDebtBase *big.Int           `json:"residualDebtBase,omitempty"` // 同上，基础货币计价；折算不足 1 个最小单位时只有这一项

	Steps    []StepRecord     `json:"steps"`
	Position *domain.Position `json:"position,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Succeeded 是否成功结算
func (r *Report) Succeeded() bool {
	return r != nil && r.State == StateSettled
}

// Plan 预演结果：只读链上状态，不发送交易
type Plan struct {
	Account      common.Address     `json:"account"`
	Position     *domain.Position   `json:"position"`
	Quote        *domain.PriceQuote `json:"quote"`
	Headroom     *big.Int           `json:"headroom"`
	BorrowAmount *big.Int           `json:"borrowAmount"`
}
