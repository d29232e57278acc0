package approval

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/metrics"
)

// Sender 发送交易并读取合约（*chain.Transactor 实现）
type Sender interface {
	From() common.Address
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*domain.Receipt, error)
}

// Gateway ERC20 授权与余额读取
type Gateway struct {
	tx  Sender
	log *logrus.Entry
}

// NewGateway 创建授权网关
func NewGateway(tx Sender) *Gateway {
	return &Gateway{tx: tx, log: logrus.WithField("component", "approval")}
}

// EnsureAllowance 确保 spender 对 owner 的 asset 授权至少为 amount
// 已足够时不发交易，返回 nil 回执；否则按 amount 精确授权并等待确认
// owner 必须是签名账户
func (g *Gateway) EnsureAllowance(ctx context.Context, asset domain.Asset, spender common.Address, amount *big.Int, owner common.Address) (*domain.Receipt, error) {
	const op = "approval.ensureAllowance"

	if amount == nil || amount.Sign() < 0 {
		return nil, domain.Errorf(domain.KindInvalidInput, op, "授权数量无效: %v", amount)
	}
	if spender == (common.Address{}) {
		return nil, domain.Errorf(domain.KindInvalidInput, op, "spender 地址为空")
	}
	if owner != g.tx.From() {
		return nil, domain.Errorf(domain.KindInvalidInput, op, "owner %s 不是签名账户 %s", owner.Hex(), g.tx.From().Hex())
	}

	current, err := g.Allowance(ctx, asset, owner, spender)
	if err != nil {
		return nil, err
	}
	if current.Covers(amount) {
		metrics.ApprovalsSkipped.Add(1)
		g.log.WithFields(logrus.Fields{
			"asset":     asset.String(),
			"spender":   spender.Hex(),
			"allowance": current.Amount.String(),
		}).Debug("授权已足够，跳过")
		return nil, nil
	}

	data, err := chain.ERC20.Pack("approve", spender, amount)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidInput, op, err)
	}
	g.log.WithFields(logrus.Fields{
		"asset":   asset.String(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	}).Info("发送授权交易")

	receipt, err := g.tx.Send(ctx, asset.Address, nil, data)
	if err != nil {
		return nil, chain.Classify(op, err)
	}
	return receipt, nil
}

// Allowance 读取当前授权
func (g *Gateway) Allowance(ctx context.Context, asset domain.Asset, owner, spender common.Address) (domain.Allowance, error) {
	out := domain.Allowance{Owner: owner, Spender: spender, Asset: asset}
	var amount *big.Int
	if err := g.call(ctx, asset.Address, &amount, "allowance", owner, spender); err != nil {
		return out, domain.NewError(domain.KindTransactionReverted, "approval.allowance", err)
	}
	out.Amount = amount
	return out, nil
}

// Balance 读取 owner 的代币余额
func (g *Gateway) Balance(ctx context.Context, asset domain.Asset, owner common.Address) (*big.Int, error) {
	var balance *big.Int
	if err := g.call(ctx, asset.Address, &balance, "balanceOf", owner); err != nil {
		return nil, domain.NewError(domain.KindTransactionReverted, "approval.balance", err)
	}
	return balance, nil
}

// Describe 从链上读取代币符号与精度
func (g *Gateway) Describe(ctx context.Context, addr common.Address) (domain.Asset, error) {
	asset := domain.Asset{Address: addr}
	if err := g.call(ctx, addr, &asset.Decimals, "decimals"); err != nil {
		return asset, fmt.Errorf("读取 %s 精度失败: %w", addr.Hex(), err)
	}
	// 部分代币的 symbol 不是 string，读取失败不影响使用
	if err := g.call(ctx, addr, &asset.Symbol, "symbol"); err != nil {
		g.log.WithError(err).WithField("asset", addr.Hex()).Debug("读取symbol失败")
	}
	return asset, nil
}

func (g *Gateway) call(ctx context.Context, to common.Address, out interface{}, method string, args ...interface{}) error {
	data, err := chain.ERC20.Pack(method, args...)
	if err != nil {
		return err
	}
	raw, err := g.tx.Call(ctx, to, data)
	if err != nil {
		return fmt.Errorf("调用%s失败: %w", method, err)
	}
	if err := chain.ERC20.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("解析%s结果失败: %w", method, err)
	}
	return nil
}
