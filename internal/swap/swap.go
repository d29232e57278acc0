package swap

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/pkg/units"
)

const (
	DefaultSlippageBips uint32 = 50
	DefaultDeadline            = 20 * time.Minute
)

var swapRules = []chain.ReasonRule{
	chain.ReasonContains(domain.KindSlippageExceeded, "INSUFFICIENT_OUTPUT_AMOUNT"),
}

// Sender 发送交易并读取合约（*chain.Transactor 实现）
type Sender interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*domain.Receipt, error)
}

// Approver 代币输入的 swap 需要先给路由授权（*approval.Gateway 实现）
type Approver interface {
	EnsureAllowance(ctx context.Context, asset domain.Asset, spender common.Address, amount *big.Int, owner common.Address) (*domain.Receipt, error)
}

// Config 路由与报价参数
type Config struct {
	Router       common.Address
	SlippageBips uint32        // 默认 50（0.50%）
	Deadline     time.Duration // 默认 20 分钟
}

// Executor 通过 UniswapV2 路由执行精确输入的兑换
type Executor struct {
	tx       Sender
	approver Approver
	cfg      Config
	now      func() time.Time
	log      *logrus.Entry

	mu      sync.Mutex
	factory common.Address
}

// Option 执行器选项
type Option func(*Executor)

// WithClock 替换时钟（deadline 计算）
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor 创建兑换执行器
func NewExecutor(tx Sender, approver Approver, cfg Config, opts ...Option) (*Executor, error) {
	if cfg.Router == (common.Address{}) {
		return nil, fmt.Errorf("router address is required")
	}
	if cfg.SlippageBips == 0 {
		cfg.SlippageBips = DefaultSlippageBips
	}
	if cfg.SlippageBips >= units.BipsDenominator {
		return nil, fmt.Errorf("slippage bips %d out of range", cfg.SlippageBips)
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	e := &Executor{
		tx:       tx,
		approver: approver,
		cfg:      cfg,
		now:      time.Now,
		log:      logrus.WithField("component", "swap"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Quote 读取交易对状态并报价：返回路径与预期输出
func (e *Executor) Quote(ctx context.Context, in, out domain.Asset, amountIn *big.Int) ([]common.Address, *big.Int, error) {
	const op = "swap.quote"

	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, domain.Errorf(domain.KindInvalidInput, op, "输入数量必须大于 0: %v", amountIn)
	}
	path := []common.Address{in.Address, out.Address}

	if err := e.checkLiquidity(ctx, in, out); err != nil {
		return nil, nil, err
	}

	var amounts []*big.Int
	if err := e.call(ctx, chain.RouterV2, e.cfg.Router, &amounts, "getAmountsOut", amountIn, path); err != nil {
		return nil, nil, chain.Classify(op, err)
	}
	if len(amounts) != len(path) {
		return nil, nil, domain.Errorf(domain.KindTransactionReverted, op, "getAmountsOut 返回 %d 个数量", len(amounts))
	}
	quoted := amounts[len(amounts)-1]
	if quoted.Sign() <= 0 {
		return nil, nil, domain.Errorf(domain.KindTransactionReverted, op, "%s -> %s 报价为 0", in, out)
	}
	return path, quoted, nil
}

// Swap 精确输入兑换：最少输出 = 报价 × (1 − 滑点)，截止时间 = 现在 + Deadline
// 输入为原生币时以 msg.value 发送，否则先确保路由授权
// 授权已上链但兑换失败时，同时返回带 Approval 的结果和错误
func (e *Executor) Swap(ctx context.Context, in, out domain.Asset, amountIn *big.Int, account common.Address) (*domain.SwapResult, error) {
	const op = "swap.execute"

	path, quoted, err := e.Quote(ctx, in, out, amountIn)
	if err != nil {
		return nil, err
	}
	minOut := units.ApplyBips(quoted, e.cfg.SlippageBips)
	deadline := e.now().Add(e.cfg.Deadline).Unix()

	res := &domain.SwapResult{
		Path:       path,
		AmountIn:   new(big.Int).Set(amountIn),
		QuotedOut:  quoted,
		MinimumOut: minOut,
		Deadline:   deadline,
	}

	var (
		data  []byte
		value *big.Int
	)
	if in.Native {
		value = amountIn
		data, err = chain.RouterV2.Pack("swapExactETHForTokens", minOut, path, account, big.NewInt(deadline))
	} else {
		if e.approver == nil {
			return nil, domain.Errorf(domain.KindInvalidInput, op, "代币输入需要授权网关")
		}
		res.Approval, err = e.approver.EnsureAllowance(ctx, in, e.cfg.Router, amountIn, account)
		if err != nil {
			return nil, err
		}
		data, err = chain.RouterV2.Pack("swapExactTokensForTokens", amountIn, minOut, path, account, big.NewInt(deadline))
	}
	if err != nil {
		return partial(res), domain.NewError(domain.KindInvalidInput, op, err)
	}

	e.log.WithFields(logrus.Fields{
		"in":       in.String(),
		"out":      out.String(),
		"amountIn": amountIn.String(),
		"quoted":   quoted.String(),
		"minOut":   minOut.String(),
		"deadline": deadline,
	}).Info("发送兑换交易")

	receipt, err := e.tx.Send(ctx, e.cfg.Router, value, data)
	if err != nil {
		return partial(res), chain.Classify(op, err, swapRules...)
	}
	res.Receipt = receipt
	return res, nil
}

// partial 失败时只在授权已上链的情况下返回结果
func partial(res *domain.SwapResult) *domain.SwapResult {
	if res.Approval == nil {
		return nil
	}
	return res
}

// checkLiquidity 交易对必须存在且两侧储备非零
func (e *Executor) checkLiquidity(ctx context.Context, in, out domain.Asset) error {
	const op = "swap.pair"

	factory, err := e.factoryAddress(ctx)
	if err != nil {
		return err
	}
	var pair common.Address
	if err := e.call(ctx, chain.FactoryV2, factory, &pair, "getPair", in.Address, out.Address); err != nil {
		return domain.NewError(domain.KindTransactionReverted, op, err)
	}
	if pair == (common.Address{}) {
		return domain.Errorf(domain.KindTransactionReverted, op, "%s/%s 交易对不存在", in, out)
	}

	data, err := chain.PairV2.Pack("getReserves")
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, op, err)
	}
	raw, err := e.tx.Call(ctx, pair, data)
	if err != nil {
		return domain.NewError(domain.KindTransactionReverted, op, fmt.Errorf("调用getReserves失败: %w", err))
	}
	reserves, err := chain.PairV2.Unpack("getReserves", raw)
	if err != nil || len(reserves) < 2 {
		return domain.Errorf(domain.KindTransactionReverted, op, "解析getReserves结果失败: %v", err)
	}
	r0, _ := reserves[0].(*big.Int)
	r1, _ := reserves[1].(*big.Int)
	if r0 == nil || r1 == nil || r0.Sign() == 0 || r1.Sign() == 0 {
		return domain.Errorf(domain.KindTransactionReverted, op, "%s/%s 流动性不足", in, out)
	}
	e.log.WithFields(logrus.Fields{"pair": pair.Hex(), "reserve0": r0, "reserve1": r1}).Debug("交易对储备")
	return nil
}

func (e *Executor) factoryAddress(ctx context.Context) (common.Address, error) {
	e.mu.Lock()
	factory := e.factory
	e.mu.Unlock()
	if factory != (common.Address{}) {
		return factory, nil
	}
	if err := e.call(ctx, chain.RouterV2, e.cfg.Router, &factory, "factory"); err != nil {
		return common.Address{}, domain.NewError(domain.KindTransactionReverted, "swap.factory", err)
	}
	e.mu.Lock()
	e.factory = factory
	e.mu.Unlock()
	return factory, nil
}

func (e *Executor) call(ctx context.Context, a *abi.ABI, to common.Address, out interface{}, method string, args ...interface{}) error {
	data, err := a.Pack(method, args...)
	if err != nil {
		return err
	}
	raw, err := e.tx.Call(ctx, to, data)
	if err != nil {
		return fmt.Errorf("调用%s失败: %w", method, err)
	}
	if err := a.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("解析%s结果失败: %w", method, err)
	}
	return nil
}
