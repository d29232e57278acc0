package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/metrics"
	"github.com/betbot/levercycle/pkg/units"
)

// Oracle 价格源
type Oracle interface {
	GetLatestPrice(ctx context.Context, pair string) (*domain.PriceQuote, error)
}

// Tokens 授权与余额
type Tokens interface {
	EnsureAllowance(ctx context.Context, asset domain.Asset, spender common.Address, amount *big.Int, owner common.Address) (*domain.Receipt, error)
	Balance(ctx context.Context, asset domain.Asset, owner common.Address) (*big.Int, error)
}

// Lending 借贷池
type Lending interface {
	Pool(ctx context.Context) (common.Address, error)
	GetAccountData(ctx context.Context, account common.Address) (*domain.Position, error)
	Deposit(ctx context.Context, asset domain.Asset, amount *big.Int, account common.Address) (*domain.Receipt, error)
	Borrow(ctx context.Context, asset domain.Asset, amount *big.Int, account common.Address) (*domain.Receipt, error)
	Repay(ctx context.Context, asset domain.Asset, amount *big.Int, account common.Address) (*domain.Receipt, error)
}

// Swapper 兑换
type Swapper interface {
	Swap(ctx context.Context, in, out domain.Asset, amountIn *big.Int, account common.Address) (*domain.SwapResult, error)
}

// Recorder 运行日志（可选），用于失败后人工接续
type Recorder interface {
	StartRun(ctx context.Context, report *Report) error
	RecordStep(ctx context.Context, runID string, rec StepRecord) error
	FinishRun(ctx context.Context, report *Report) error
}

// Deps 组件依赖
type Deps struct {
	Oracle   Oracle
	Tokens   Tokens
	Lending  Lending
	Swapper  Swapper
	Recorder Recorder
}

// Config 一次运行的参数
type Config struct {
	Account            common.Address
	Collateral         domain.Asset // 存入的抵押品（WETH）
	Debt               domain.Asset // 借出的资产（DAI）
	Reserve            domain.Asset // 兑换输入的储备资产（ETH）
	PricePair          string       // 债务资产对基础货币的价格源，例如 "DAI/ETH"
	DepositAmount      *big.Int
	SafetyMarginBips   uint32          // 默认 500（只借 95% 可借额度）
	SwapDebtMultiplier decimal.Decimal // 默认 2
	MaxRepayIterations int             // 默认 5
}

func (c *Config) applyDefaults() {
	if c.SafetyMarginBips == 0 {
		c.SafetyMarginBips = 500
	}
	if c.SwapDebtMultiplier.IsZero() {
		c.SwapDebtMultiplier = decimal.NewFromInt(2)
	}
	if c.MaxRepayIterations <= 0 {
		c.MaxRepayIterations = 5
	}
}

// Validate 参数校验
func (c *Config) Validate() error {
	if c.Account == (common.Address{}) {
		return fmt.Errorf("account is required")
	}
	for name, a := range map[string]domain.Asset{"collateral": c.Collateral, "debt": c.Debt, "reserve": c.Reserve} {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.PricePair == "" {
		return fmt.Errorf("price pair is required")
	}
	if !units.IsPositive(c.DepositAmount) {
		return fmt.Errorf("deposit amount must be positive")
	}
	if c.SafetyMarginBips >= units.BipsDenominator {
		return fmt.Errorf("safety margin bips %d out of range", c.SafetyMarginBips)
	}
	if c.SwapDebtMultiplier.IsNegative() {
		return fmt.Errorf("swap debt multiplier must be positive")
	}
	return nil
}

// Orchestrator 执行 存款 → 借款 → 兑换 → 还款 的完整流程
// 严格串行：每一步的交易确认后才进入下一步；任何失败都终止流程，不回滚已完成的步骤
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
	log  *logrus.Entry
}

// New 创建编排器
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Oracle == nil || deps.Tokens == nil || deps.Lending == nil || deps.Swapper == nil {
		return nil, fmt.Errorf("oracle, tokens, lending and swapper are required")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, domain.NewError(domain.KindInvalidInput, "workflow.new", err)
	}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  logrus.WithField("component", "workflow"),
	}, nil
}

// run 单次运行的可变状态
type run struct {
	report *Report
	state  State
}

// Run 执行完整流程
// 成功时 Report.State = Settled；失败时返回 *StepError，Report 同时记录失败步骤与最后到达的状态
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	r := &run{
		state: StateStart,
		report: &Report{
			RunID:     uuid.NewString(),
			Account:   o.cfg.Account,
			State:     StateStart,
			StartedAt: o.now(),
		},
	}
	log := o.log.WithField("run", r.report.RunID)
	metrics.RunsStarted.Add(1)
	metrics.LastState.Set(string(StateStart))
	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.StartRun(ctx, r.report); err != nil {
			log.WithError(err).Warn("写入运行日志失败")
		}
	}
	log.WithFields(logrus.Fields{
		"account":    o.cfg.Account.Hex(),
		"collateral": o.cfg.Collateral.String(),
		"debt":       o.cfg.Debt.String(),
		"deposit":    units.Format(o.cfg.DepositAmount, o.cfg.Collateral.Decimals, 6),
	}).Info("开始运行")

	steps := []struct {
		name string
		to   State
		fn   func(context.Context, *run) ([]string, error)
	}{
		{StepDeposit, StateDeposited, o.deposit},
		{StepBorrow, StateBorrowed, o.borrow},
		{StepSwap, StateSwapped, o.swap},
		{StepRepay, StateRepaid, o.repay},
		{StepSettle, StateSettled, o.settle},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, r, s.name, nil, err)
		}
		txs, err := s.fn(ctx, r)
		if err != nil {
			return o.fail(ctx, r, s.name, txs, err)
		}
		o.advance(ctx, r, s.name, s.to, txs)
	}

	r.report.FinishedAt = o.now()
	metrics.RunsSettled.Add(1)
	o.finish(ctx, r)
	log.WithField("elapsed", r.report.FinishedAt.Sub(r.report.StartedAt).Truncate(time.Millisecond)).Info("运行完成")
	return r.report, nil
}

// Plan 预演：读取当前仓位与价格，计算按当前可借额度应借的数量，不发送交易
func (o *Orchestrator) Plan(ctx context.Context) (*Plan, error) {
	pos, err := o.deps.Lending.GetAccountData(ctx, o.cfg.Account)
	if err != nil {
		return nil, err
	}
	quote, err := o.deps.Oracle.GetLatestPrice(ctx, o.cfg.PricePair)
	if err != nil {
		return nil, err
	}
	headroom := pos.Headroom()
	return &Plan{
		Account:      o.cfg.Account,
		Position:     pos,
		Quote:        quote,
		Headroom:     headroom,
		BorrowAmount: BorrowAmount(headroom, o.cfg.SafetyMarginBips, quote, o.cfg.Debt.Decimals),
	}, nil
}

// Start → Deposited
func (o *Orchestrator) deposit(ctx context.Context, r *run) ([]string, error) {
	pool, err := o.deps.Lending.Pool(ctx)
	if err != nil {
		return nil, err
	}
	amount := o.cfg.DepositAmount
	var txs []string
	approveRcpt, err := o.deps.Tokens.EnsureAllowance(ctx, o.cfg.Collateral, pool, amount, o.cfg.Account)
	if err != nil {
		return nil, err
	}
	txs = appendTx(txs, approveRcpt)
	rcpt, err := o.deps.Lending.Deposit(ctx, o.cfg.Collateral, amount, o.cfg.Account)
	if err != nil {
		return txs, err
	}
	r.report.Deposited = new(big.Int).Set(amount)
	return appendTx(txs, rcpt), nil
}

// Deposited → Borrowed：按 (1 − 安全边际) × 可借额度借款
func (o *Orchestrator) borrow(ctx context.Context, r *run) ([]string, error) {
	pos, err := o.deps.Lending.GetAccountData(ctx, o.cfg.Account)
	if err != nil {
		return nil, err
	}
	quote, err := o.deps.Oracle.GetLatestPrice(ctx, o.cfg.PricePair)
	if err != nil {
		return nil, err
	}
	r.report.Quote = quote

	headroom := pos.Headroom()
	amount := BorrowAmount(headroom, o.cfg.SafetyMarginBips, quote, o.cfg.Debt.Decimals)
	if amount.Sign() <= 0 {
		return nil, domain.Errorf(domain.KindBorrowCapacityExceeded, "workflow.borrow",
			"可借额度不足: headroom=%s", headroom)
	}
	o.log.WithFields(logrus.Fields{
		"headroom": units.Format(headroom, domain.BaseCurrencyDecimals, 6),
		"price":    units.Format(quote.Answer, quote.Decimals, 8),
		"amount":   units.Format(amount, o.cfg.Debt.Decimals, 4),
	}).Info("计算借款数量")

	rcpt, err := o.deps.Lending.Borrow(ctx, o.cfg.Debt, amount, o.cfg.Account)
	if err != nil {
		return nil, err
	}
	r.report.Borrowed = amount
	return appendTx(nil, rcpt), nil
}

// Borrowed → Swapped：用 multiplier × 总债务（基础货币）的储备资产换入债务资产
func (o *Orchestrator) swap(ctx context.Context, r *run) ([]string, error) {
	pos, err := o.deps.Lending.GetAccountData(ctx, o.cfg.Account)
	if err != nil {
		return nil, err
	}
	input := SwapInput(pos.TotalDebtBase, o.cfg.SwapDebtMultiplier, o.cfg.Reserve.Decimals)
	if input.Sign() <= 0 {
		return nil, domain.Errorf(domain.KindInvalidInput, "workflow.swap", "兑换数量为 0: debt=%s", pos.Debt())
	}
	res, err := o.deps.Swapper.Swap(ctx, o.cfg.Reserve, o.cfg.Debt, input, o.cfg.Account)
	var txs []string
	if res != nil {
		txs = appendTx(txs, res.Approval)
	}
	if err != nil {
		return txs, err
	}
	r.report.Swap = res
	return appendTx(txs, res.Receipt), nil
}

// Swapped → Repaid
func (o *Orchestrator) repay(ctx context.Context, r *run) ([]string, error) {
	outcome, err := o.RepayAll(ctx)
	r.report.Repaid = outcome.Repaid
	r.report.RepayIterations = outcome.Iterations
	if units.IsPositive(outcome.ResidualDebt) {
		r.report.ResidualDebt = outcome.ResidualDebt
	}
	if units.IsPositive(outcome.ResidualDebtBase) {
		r.report.ResidualDebtBase = outcome.ResidualDebtBase
	}
	return outcome.TxHashes, err
}

// Repaid → Settled：读取最终仓位
func (o *Orchestrator) settle(ctx context.Context, r *run) ([]string, error) {
	pos, err := o.deps.Lending.GetAccountData(ctx, o.cfg.Account)
	if err != nil {
		return nil, err
	}
	r.report.Position = pos
	return nil, nil
}

// RepayOutcome 还款循环结果
type RepayOutcome struct {
	Repaid           *big.Int
	Iterations       int
	ResidualDebt     *big.Int // 债务资产单位
	ResidualDebtBase *big.Int // 基础货币；债务折算不足 1 个最小单位时 ResidualDebt 为 0 而这里非 0
	TxHashes         []string
}

// HasResidual 是否仍有未还清的债务
func (o *RepayOutcome) HasResidual() bool {
	return o != nil && (units.IsPositive(o.ResidualDebt) || units.IsPositive(o.ResidualDebtBase))
}

// RepayAll 循环还款：每轮重新读取仓位、价格和余额，还款数量 = min(余额, 债务)
// 债务为 0、余额为 0、或达到迭代上限时停止；上限时剩余的债务记录在结果里，不视为错误
func (o *Orchestrator) RepayAll(ctx context.Context) (*RepayOutcome, error) {
	out := &RepayOutcome{Repaid: new(big.Int), ResidualDebt: new(big.Int), ResidualDebtBase: new(big.Int)}
	pool, err := o.deps.Lending.Pool(ctx)
	if err != nil {
		return out, err
	}

	for out.Iterations < o.cfg.MaxRepayIterations {
		pos, err := o.deps.Lending.GetAccountData(ctx, o.cfg.Account)
		if err != nil {
			return out, err
		}
		if !pos.HasDebt() {
			out.ResidualDebt = new(big.Int)
			out.ResidualDebtBase = new(big.Int)
			return out, nil
		}
		out.ResidualDebtBase = pos.Debt()
		quote, err := o.deps.Oracle.GetLatestPrice(ctx, o.cfg.PricePair)
		if err != nil {
			return out, err
		}
		debt := DebtInUnits(pos.TotalDebtBase, quote, o.cfg.Debt.Decimals)
		out.ResidualDebt = debt
		if debt.Sign() <= 0 {
			o.log.WithField("debtBase", pos.Debt().String()).Warn("剩余债务不足 1 个最小单位，无法还款")
			return out, nil
		}

		balance, err := o.deps.Tokens.Balance(ctx, o.cfg.Debt, o.cfg.Account)
		if err != nil {
			return out, err
		}
		amount := units.Min(balance, debt)
		if amount.Sign() <= 0 {
			o.log.WithFields(logrus.Fields{
				"debt":    debt.String(),
				"balance": balance.String(),
			}).Warn("没有可还款的余额，停止还款")
			return out, nil
		}

		out.Iterations++
		metrics.RepayIterations.Add(1)
		o.log.WithFields(logrus.Fields{
			"iteration": out.Iterations,
			"debt":      units.Format(debt, o.cfg.Debt.Decimals, 4),
			"balance":   units.Format(balance, o.cfg.Debt.Decimals, 4),
			"amount":    units.Format(amount, o.cfg.Debt.Decimals, 4),
		}).Info("还款")

		approveRcpt, err := o.deps.Tokens.EnsureAllowance(ctx, o.cfg.Debt, pool, amount, o.cfg.Account)
		if err != nil {
			return out, err
		}
		out.TxHashes = appendTx(out.TxHashes, approveRcpt)
		rcpt, err := o.deps.Lending.Repay(ctx, o.cfg.Debt, amount, o.cfg.Account)
		if err != nil {
			return out, err
		}
		out.TxHashes = appendTx(out.TxHashes, rcpt)
		out.Repaid.Add(out.Repaid, amount)
		out.ResidualDebt = new(big.Int).Sub(debt, amount)
	}

	// 达到上限后再读一次，报告真实剩余债务
	pos, err := o.deps.Lending.GetAccountData(ctx, o.cfg.Account)
	if err != nil {
		return out, err
	}
	if pos.HasDebt() {
		out.ResidualDebtBase = pos.Debt()
		if quote, err := o.deps.Oracle.GetLatestPrice(ctx, o.cfg.PricePair); err == nil {
			out.ResidualDebt = DebtInUnits(pos.TotalDebtBase, quote, o.cfg.Debt.Decimals)
		}
		o.log.WithFields(logrus.Fields{
			"iterations": out.Iterations,
			"debtBase":   pos.Debt().String(),
		}).Warn("达到还款迭代上限，仍有剩余债务")
	} else {
		out.ResidualDebt = new(big.Int)
		out.ResidualDebtBase = new(big.Int)
	}
	return out, nil
}

func (o *Orchestrator) advance(ctx context.Context, r *run, step string, to State, txs []string) {
	rec := StepRecord{Step: step, From: r.state, To: to, TxHashes: txs, At: o.now()}
	if pos, err := o.deps.Lending.GetAccountData(ctx, o.cfg.Account); err == nil {
		rec.Position = pos
		o.logPosition(step, pos)
	}
	r.state = to
	r.report.State = to
	r.report.Steps = append(r.report.Steps, rec)
	metrics.LastState.Set(string(to))
	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.RecordStep(ctx, r.report.RunID, rec); err != nil {
			o.log.WithError(err).Warn("写入步骤日志失败")
		}
	}
}

// fail 终止运行；txs 是失败步骤中已经上链的交易，连同出错交易的哈希一起记为一条到 Failed 的转换
func (o *Orchestrator) fail(ctx context.Context, r *run, step string, txs []string, err error) (*Report, error) {
	se := stepError(step, r.state, err)
	r.report.State = StateFailed
	r.report.FailedStep = step
	r.report.LastState = r.state
	r.report.ErrorKind = se.Kind
	r.report.Error = err.Error()
	r.report.FinishedAt = o.now()
	metrics.RunsFailed.Add(1)
	metrics.LastState.Set(string(StateFailed))

	fields := logrus.Fields{"run": r.report.RunID, "step": step, "lastState": r.state, "kind": se.Kind}
	var de *domain.Error
	if errors.As(err, &de) && de.TxHash != "" {
		fields["tx"] = de.TxHash
		r.report.TxHash = de.TxHash
		if !slices.Contains(txs, de.TxHash) {
			txs = append(txs, de.TxHash)
		}
	}
	o.log.WithFields(fields).WithError(err).Error("运行失败")

	if len(txs) > 0 {
		rec := StepRecord{Step: step, From: r.state, To: StateFailed, TxHashes: txs, At: o.now()}
		r.report.Steps = append(r.report.Steps, rec)
		if o.deps.Recorder != nil {
			if rerr := o.deps.Recorder.RecordStep(context.WithoutCancel(ctx), r.report.RunID, rec); rerr != nil {
				o.log.WithError(rerr).Warn("写入步骤日志失败")
			}
		}
	}

	// 记录失败时的仓位，便于人工接续
	if pos, perr := o.deps.Lending.GetAccountData(context.WithoutCancel(ctx), o.cfg.Account); perr == nil {
		r.report.Position = pos
	}
	o.finish(ctx, r)
	return r.report, se
}

func (o *Orchestrator) finish(ctx context.Context, r *run) {
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.FinishRun(context.WithoutCancel(ctx), r.report); err != nil {
		o.log.WithError(err).Warn("写入运行结果失败")
	}
}

func (o *Orchestrator) logPosition(step string, pos *domain.Position) {
	o.log.WithFields(logrus.Fields{
		"step":         step,
		"collateral":   units.Format(pos.TotalCollateralBase, domain.BaseCurrencyDecimals, 6),
		"debt":         units.Format(pos.TotalDebtBase, domain.BaseCurrencyDecimals, 6),
		"available":    units.Format(pos.AvailableBorrowsBase, domain.BaseCurrencyDecimals, 6),
		"healthFactor": formatHealthFactor(pos.HealthFactor),
	}).Info("仓位")
}

func formatHealthFactor(hf *big.Int) string {
	if hf == nil || hf.BitLen() > 128 {
		return "∞"
	}
	return units.Format(hf, 18, 4)
}

func appendTx(txs []string, r *domain.Receipt) []string {
	if r == nil {
		return txs
	}
	return append(txs, r.Hex())
}
