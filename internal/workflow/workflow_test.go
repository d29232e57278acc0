package workflow_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/levercycle/internal/approval"
	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/chain/chaintest"
	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/lending"
	"github.com/betbot/levercycle/internal/oracle"
	"github.com/betbot/levercycle/internal/swap"
	"github.com/betbot/levercycle/internal/workflow"
)

type recorder struct {
	mu       sync.Mutex
	started  []string
	steps    []workflow.StepRecord
	finished *workflow.Report
}

func (r *recorder) StartRun(ctx context.Context, report *workflow.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, report.RunID)
	return nil
}

func (r *recorder) RecordStep(ctx context.Context, runID string, rec workflow.StepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, rec)
	return nil
}

func (r *recorder) FinishRun(ctx context.Context, report *workflow.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = report
	return nil
}

type harness struct {
	w   *chaintest.World
	orc *workflow.Orchestrator
	rec *recorder
}

func newHarness(t *testing.T, mutate func(*workflow.Config)) *harness {
	t.Helper()
	return newHarnessWithTx(t, chain.TransactorConfig{}, mutate)
}

// newHarnessWithTx 允许测试调整确认超时和轮询间隔
func newHarnessWithTx(t *testing.T, txCfg chain.TransactorConfig, mutate func(*workflow.Config)) *harness {
	t.Helper()
	w := chaintest.NewWorld()
	txCfg.ChainID = w.Chain.ChainID
	tr, err := chain.NewTransactor(w.Chain, w.Key, txCfg)
	require.NoError(t, err)

	gateway := approval.NewGateway(tr)
	manager, err := lending.NewManager(tr, lending.Config{AddressesProvider: w.Provider})
	require.NoError(t, err)
	executor, err := swap.NewExecutor(tr, gateway, swap.Config{Router: w.Router.Address})
	require.NoError(t, err)
	feeds := map[string]common.Address{"DAI/ETH": w.Feed}

	cfg := workflow.Config{
		Account:       w.User,
		Collateral:    domain.Asset{Address: w.WETH, Symbol: "WETH", Decimals: 18},
		Debt:          domain.Asset{Address: w.DAI, Symbol: "DAI", Decimals: 18},
		Reserve:       domain.Asset{Address: w.WETH, Symbol: "ETH", Decimals: 18, Native: true},
		PricePair:     "DAI/ETH",
		DepositAmount: chaintest.Ether(2),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	rec := &recorder{}
	orc, err := workflow.New(workflow.Deps{
		Oracle:   oracle.NewClient(tr, feeds, time.Hour),
		Tokens:   gateway,
		Lending:  manager,
		Swapper:  executor,
		Recorder: rec,
	}, cfg)
	require.NoError(t, err)
	return &harness{w: w, orc: orc, rec: rec}
}

func requireStepError(t *testing.T, err error) *workflow.StepError {
	t.Helper()
	require.Error(t, err)
	var se *workflow.StepError
	require.True(t, errors.As(err, &se), "want *StepError, got %T", err)
	return se
}

func TestRun_Settles(t *testing.T) {
	h := newHarness(t, nil)

	report, err := h.orc.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Succeeded())

	// 2 WETH 抵押，可借 1.6 ETH，借 95% = 1.52 ETH = 3040 DAI
	assert.Equal(t, chaintest.Ether(3040), report.Borrowed)
	// 兑换 2 × 1.52 ETH
	require.NotNil(t, report.Swap)
	assert.Equal(t, big.NewInt(3_040_000_000_000_000_000), report.Swap.AmountIn)
	assert.Equal(t, chaintest.Ether(3040), report.Repaid)
	assert.Equal(t, 1, report.RepayIterations)
	assert.Nil(t, report.ResidualDebt)

	assert.Equal(t, 0, h.w.Chain.Debt(h.w.User).Sign())
	assert.Equal(t, chaintest.Ether(2), h.w.Chain.Collateral(h.w.User))
	assert.Equal(t, chaintest.Ether(6080), h.w.Chain.Balance(h.w.DAI, h.w.User))
	assert.Equal(t, []string{
		"approve", "deposit",
		"borrow",
		"swapExactETHForTokens",
		"approve", "repay",
	}, h.w.Chain.Methods())

	require.Len(t, report.Steps, 5)
	want := []workflow.State{
		workflow.StateDeposited,
		workflow.StateBorrowed,
		workflow.StateSwapped,
		workflow.StateRepaid,
		workflow.StateSettled,
	}
	for i, s := range report.Steps {
		assert.Equal(t, want[i], s.To)
	}
	assert.Equal(t, workflow.StateStart, report.Steps[0].From)
	require.NotNil(t, report.Position)
	assert.Equal(t, 0, report.Position.TotalDebtBase.Sign())

	assert.Len(t, h.rec.started, 1)
	assert.Len(t, h.rec.steps, 5)
	assert.Same(t, report, h.rec.finished)
}

func TestRun_DepositReverts(t *testing.T) {
	h := newHarness(t, func(c *workflow.Config) {
		c.DepositAmount = chaintest.Ether(50) // 只持有 10 WETH
	})

	report, err := h.orc.Run(context.Background())
	se := requireStepError(t, err)
	assert.Equal(t, workflow.StepDeposit, se.Step)
	assert.Equal(t, workflow.StateStart, se.LastState)
	assert.Equal(t, domain.KindTransactionReverted, se.Kind)
	assert.True(t, errors.Is(err, domain.ErrTransactionReverted))

	assert.Equal(t, workflow.StateFailed, report.State)
	assert.Equal(t, workflow.StateStart, report.LastState)
	// 授权成功，但没有 borrow/swap/repay
	assert.Equal(t, []string{"approve"}, h.w.Chain.Methods())
	assert.Same(t, report, h.rec.finished)

	// 已上链的授权交易记在失败步骤里
	calls := h.w.Chain.Calls()
	require.Len(t, report.Steps, 1)
	failed := report.Steps[0]
	assert.Equal(t, workflow.StepDeposit, failed.Step)
	assert.Equal(t, workflow.StateStart, failed.From)
	assert.Equal(t, workflow.StateFailed, failed.To)
	assert.Equal(t, []string{calls[0].Hash.Hex()}, failed.TxHashes)
	assert.Empty(t, report.TxHash)
	h.rec.mu.Lock()
	assert.Len(t, h.rec.steps, 1)
	h.rec.mu.Unlock()
}

func TestRun_BorrowConfirmationTimeout(t *testing.T) {
	h := newHarnessWithTx(t, chain.TransactorConfig{
		ConfirmTimeout: 50 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}, nil)
	h.w.Chain.HoldMethods = map[string]bool{"borrow": true}

	report, err := h.orc.Run(context.Background())
	se := requireStepError(t, err)
	assert.Equal(t, workflow.StepBorrow, se.Step)
	assert.Equal(t, workflow.StateDeposited, se.LastState)
	assert.Equal(t, domain.KindConfirmationTimeout, se.Kind)
	assert.True(t, errors.Is(err, domain.ErrConfirmationTimeout))

	// borrow 只发一次，不重发
	assert.Equal(t, []string{"approve", "deposit", "borrow"}, h.w.Chain.Methods())
	borrowHash := h.w.Chain.Calls()[2].Hash.Hex()

	assert.Equal(t, workflow.StateFailed, report.State)
	assert.Equal(t, domain.KindConfirmationTimeout, report.ErrorKind)
	assert.Equal(t, borrowHash, report.TxHash)
	require.Len(t, report.Steps, 2)
	failed := report.Steps[1]
	assert.Equal(t, workflow.StepBorrow, failed.Step)
	assert.Equal(t, workflow.StateDeposited, failed.From)
	assert.Equal(t, workflow.StateFailed, failed.To)
	assert.Equal(t, []string{borrowHash}, failed.TxHashes)
}

func TestRun_CancelledWhileConfirming(t *testing.T) {
	h := newHarnessWithTx(t, chain.TransactorConfig{
		ConfirmTimeout: time.Minute,
		PollInterval:   time.Millisecond,
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.w.Chain.HoldMethods = map[string]bool{"swapExactETHForTokens": true}
	h.w.Chain.OnSend = func(c chaintest.Call) {
		if c.Method == "swapExactETHForTokens" {
			cancel()
		}
	}

	report, err := h.orc.Run(ctx)
	se := requireStepError(t, err)
	assert.Equal(t, workflow.StepSwap, se.Step)
	assert.Equal(t, workflow.StateBorrowed, se.LastState)
	// 交易已发出，取消后按确认超时上报而不是回滚
	assert.Equal(t, domain.KindConfirmationTimeout, se.Kind)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, domain.ErrTransactionReverted))

	calls := h.w.Chain.Calls()
	require.Len(t, calls, 4)
	swapHash := calls[3].Hash.Hex()
	assert.Equal(t, swapHash, report.TxHash)
	require.NotEmpty(t, report.Steps)
	failed := report.Steps[len(report.Steps)-1]
	assert.Equal(t, workflow.StepSwap, failed.Step)
	assert.Equal(t, workflow.StateFailed, failed.To)
	assert.Equal(t, []string{swapHash}, failed.TxHashes)
	assert.Same(t, report, h.rec.finished)
}

func TestRun_StaleOracleStopsBeforeBorrow(t *testing.T) {
	h := newHarness(t, nil)
	h.w.Chain.SetFeedUpdatedAt(h.w.Feed, time.Now().Add(-3*time.Hour))

	report, err := h.orc.Run(context.Background())
	se := requireStepError(t, err)
	assert.Equal(t, workflow.StepBorrow, se.Step)
	assert.Equal(t, workflow.StateDeposited, se.LastState)
	assert.True(t, errors.Is(err, domain.ErrOracleUnavailable))
	assert.Equal(t, []string{"approve", "deposit"}, h.w.Chain.Methods())
	assert.Equal(t, 0, h.w.Chain.Debt(h.w.User).Sign())
	require.NotNil(t, report.Position)
	assert.Equal(t, chaintest.Ether(2), report.Position.TotalCollateralBase)
}

func TestRun_SwapSlippage(t *testing.T) {
	h := newHarness(t, nil)
	h.w.Router.DriftBips = 100

	report, err := h.orc.Run(context.Background())
	se := requireStepError(t, err)
	assert.Equal(t, workflow.StepSwap, se.Step)
	assert.Equal(t, workflow.StateBorrowed, se.LastState)
	assert.Equal(t, domain.KindSlippageExceeded, se.Kind)
	assert.Equal(t, domain.KindSlippageExceeded, report.ErrorKind)
	// 已借出的债务保留，由运维处理
	assert.Equal(t, chaintest.Ether(3040), h.w.Chain.Debt(h.w.User))
}

func TestRun_TokenSwapFailureKeepsApproval(t *testing.T) {
	h := newHarness(t, func(c *workflow.Config) {
		c.Reserve = c.Collateral
	})
	h.w.Router.DriftBips = 100

	report, err := h.orc.Run(context.Background())
	se := requireStepError(t, err)
	assert.Equal(t, workflow.StepSwap, se.Step)
	assert.Equal(t, domain.KindSlippageExceeded, se.Kind)
	assert.Nil(t, report.Swap)

	// 路由授权已上链，兑换本身没有发出
	assert.Equal(t, []string{"approve", "deposit", "borrow", "approve"}, h.w.Chain.Methods())
	calls := h.w.Chain.Calls()
	failed := report.Steps[len(report.Steps)-1]
	assert.Equal(t, workflow.StepSwap, failed.Step)
	assert.Equal(t, workflow.StateFailed, failed.To)
	assert.Equal(t, []string{calls[3].Hash.Hex()}, failed.TxHashes)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.orc.Run(ctx)
	se := requireStepError(t, err)
	assert.Equal(t, workflow.StepDeposit, se.Step)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, workflow.StateFailed, report.State)
	assert.Empty(t, h.w.Chain.Calls())
}

func TestRepayAll(t *testing.T) {
	ctx := context.Background()

	t.Run("exact balance clears debt", func(t *testing.T) {
		h := newHarness(t, nil)
		h.w.Chain.SetCollateral(h.w.User, chaintest.Ether(10))
		h.w.Chain.SetDebt(h.w.User, chaintest.Ether(500))
		h.w.Chain.Mint(h.w.DAI, h.w.User, chaintest.Ether(500))

		out, err := h.orc.RepayAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, chaintest.Ether(500), out.Repaid)
		assert.Equal(t, 1, out.Iterations)
		assert.Equal(t, 0, out.ResidualDebt.Sign())
		assert.Equal(t, 0, h.w.Chain.Debt(h.w.User).Sign())
		assert.Equal(t, 0, h.w.Chain.Balance(h.w.DAI, h.w.User).Sign())
	})

	t.Run("clamped to outstanding debt", func(t *testing.T) {
		h := newHarness(t, nil)
		h.w.Chain.SetCollateral(h.w.User, chaintest.Ether(10))
		h.w.Chain.SetDebt(h.w.User, chaintest.Ether(500))
		h.w.Chain.Mint(h.w.DAI, h.w.User, chaintest.Ether(800))

		out, err := h.orc.RepayAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, chaintest.Ether(500), out.Repaid)
		assert.Equal(t, chaintest.Ether(300), h.w.Chain.Balance(h.w.DAI, h.w.User))
	})

	t.Run("balance runs out", func(t *testing.T) {
		h := newHarness(t, nil)
		h.w.Chain.SetCollateral(h.w.User, chaintest.Ether(10))
		h.w.Chain.SetDebt(h.w.User, chaintest.Ether(500))
		h.w.Chain.Mint(h.w.DAI, h.w.User, chaintest.Ether(200))

		out, err := h.orc.RepayAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, chaintest.Ether(200), out.Repaid)
		assert.Equal(t, 1, out.Iterations)
		assert.Equal(t, chaintest.Ether(300), out.ResidualDebt)
	})

	t.Run("iteration cap leaves residual debt", func(t *testing.T) {
		h := newHarness(t, func(c *workflow.Config) { c.MaxRepayIterations = 1 })
		h.w.Chain.SetCollateral(h.w.User, chaintest.Ether(10))
		h.w.Chain.SetDebt(h.w.User, chaintest.Ether(500))
		h.w.Chain.Mint(h.w.DAI, h.w.User, chaintest.Ether(100))

		out, err := h.orc.RepayAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, out.Iterations)
		assert.Equal(t, chaintest.Ether(400), out.ResidualDebt)
	})

	t.Run("dust debt below one unit is reported in base", func(t *testing.T) {
		h := newHarness(t, func(c *workflow.Config) { c.Debt.Decimals = 6 })
		h.w.Chain.SetCollateral(h.w.User, chaintest.Ether(10))
		// 1e9 wei DAI 折合 5e5 wei 基础货币，按 6 位精度折算为 0 个单位
		h.w.Chain.SetDebt(h.w.User, big.NewInt(1_000_000_000))
		h.w.Chain.Mint(h.w.DAI, h.w.User, chaintest.Ether(1))

		out, err := h.orc.RepayAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, out.Iterations)
		assert.Equal(t, 0, out.ResidualDebt.Sign())
		assert.Equal(t, big.NewInt(500_000), out.ResidualDebtBase)
		assert.True(t, out.HasResidual())
		assert.Empty(t, h.w.Chain.Calls())
	})

	t.Run("no debt is a no-op", func(t *testing.T) {
		h := newHarness(t, nil)
		out, err := h.orc.RepayAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, out.Iterations)
		assert.Empty(t, h.w.Chain.Calls())
	})
}

func TestPlan(t *testing.T) {
	h := newHarness(t, nil)
	h.w.Chain.SetCollateral(h.w.User, chaintest.Ether(2))

	plan, err := h.orc.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_600_000_000_000_000_000), plan.Headroom)
	assert.Equal(t, chaintest.Ether(3040), plan.BorrowAmount)
	assert.Empty(t, h.w.Chain.Calls())
}

func TestNew_Validation(t *testing.T) {
	_, err := workflow.New(workflow.Deps{}, workflow.Config{})
	assert.Error(t, err)

	w := chaintest.NewWorld()
	tr, err := chain.NewTransactor(w.Chain, w.Key, chain.TransactorConfig{ChainID: w.Chain.ChainID})
	require.NoError(t, err)
	gateway := approval.NewGateway(tr)
	manager, err := lending.NewManager(tr, lending.Config{AddressesProvider: w.Provider})
	require.NoError(t, err)
	executor, err := swap.NewExecutor(tr, gateway, swap.Config{Router: w.Router.Address})
	require.NoError(t, err)
	deps := workflow.Deps{
		Oracle:  oracle.NewClient(tr, nil, time.Hour),
		Tokens:  gateway,
		Lending: manager,
		Swapper: executor,
	}
	_, err = workflow.New(deps, workflow.Config{
		Account:            w.User,
		Collateral:         domain.Asset{Address: w.WETH, Decimals: 18},
		Debt:               domain.Asset{Address: w.DAI, Decimals: 18},
		Reserve:            domain.Asset{Address: w.WETH, Decimals: 18, Native: true},
		PricePair:          "DAI/ETH",
		DepositAmount:      big.NewInt(0),
		SwapDebtMultiplier: decimal.NewFromInt(2),
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
