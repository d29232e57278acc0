package lending

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/domain"
)

// Aave v2 利率模式
const (
	RateModeStable   int64 = 1
	RateModeVariable int64 = 2
)

// borrowRules Aave v2 校验错误码：
// 9 抵押品为 0，10 健康因子低于清算阈值，11 抵押品不足以覆盖新借款
var borrowRules = []chain.ReasonRule{
	chain.ReasonIs(domain.KindBorrowCapacityExceeded, "9", "10", "11"),
}

// Sender 发送交易并读取合约（*chain.Transactor 实现）
type Sender interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*domain.Receipt, error)
}

// Config 借贷池参数
type Config struct {
	AddressesProvider common.Address
	ReferralCode      uint16
	InterestRateMode  int64 // 默认 RateModeStable
}

// Manager 借贷仓位管理：存款、借款、还款与账户查询
type Manager struct {
	tx  Sender
	cfg Config
	log *logrus.Entry

	mu   sync.Mutex
	pool common.Address
}

// NewManager 创建借贷仓位管理器
func NewManager(tx Sender, cfg Config) (*Manager, error) {
	if cfg.AddressesProvider == (common.Address{}) {
		return nil, fmt.Errorf("addresses provider is required")
	}
	if cfg.InterestRateMode == 0 {
		cfg.InterestRateMode = RateModeStable
	}
	if cfg.InterestRateMode != RateModeStable && cfg.InterestRateMode != RateModeVariable {
		return nil, fmt.Errorf("unsupported interest rate mode %d", cfg.InterestRateMode)
	}
	return &Manager{tx: tx, cfg: cfg, log: logrus.WithField("component", "lending")}, nil
}

// Pool 通过 AddressesProvider 解析 LendingPool 地址（解析一次后缓存）
func (m *Manager) Pool(ctx context.Context) (common.Address, error) {
	m.mu.Lock()
	pool := m.pool
	m.mu.Unlock()
	if pool != (common.Address{}) {
		return pool, nil
	}

	data, err := chain.AddressesProvider.Pack("getLendingPool")
	if err != nil {
		return common.Address{}, err
	}
	raw, err := m.tx.Call(ctx, m.cfg.AddressesProvider, data)
	if err != nil {
		return common.Address{}, domain.NewError(domain.KindTransactionReverted, "lending.pool", fmt.Errorf("调用getLendingPool失败: %w", err))
	}
	if err := chain.AddressesProvider.UnpackIntoInterface(&pool, "getLendingPool", raw); err != nil {
		return common.Address{}, domain.NewError(domain.KindTransactionReverted, "lending.pool", fmt.Errorf("解析getLendingPool结果失败: %w", err))
	}
	if pool == (common.Address{}) {
		return common.Address{}, domain.Errorf(domain.KindInvalidInput, "lending.pool", "AddressesProvider 返回空地址")
	}

	m.mu.Lock()
	m.pool = pool
	m.mu.Unlock()
	m.log.WithField("pool", pool.Hex()).Debug("解析LendingPool地址")
	return pool, nil
}

// GetAccountData 读取账户当前仓位（每次都从链上读取，不缓存）
func (m *Manager) GetAccountData(ctx context.Context, account common.Address) (*domain.Position, error) {
	const op = "lending.getAccountData"

	pool, err := m.Pool(ctx)
	if err != nil {
		return nil, err
	}
	data, err := chain.LendingPool.Pack("getUserAccountData", account)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidInput, op, err)
	}
	raw, err := m.tx.Call(ctx, pool, data)
	if err != nil {
		return nil, domain.NewError(domain.KindTransactionReverted, op, fmt.Errorf("调用getUserAccountData失败: %w", err))
	}
	out, err := chain.LendingPool.Unpack("getUserAccountData", raw)
	if err != nil || len(out) != 6 {
		return nil, domain.Errorf(domain.KindTransactionReverted, op, "解析getUserAccountData结果失败: %v", err)
	}

	pos := &domain.Position{Account: account}
	fields := []**big.Int{
		&pos.TotalCollateralBase,
		&pos.TotalDebtBase,
		&pos.AvailableBorrowsBase,
		&pos.LiquidationThreshold,
		&pos.LTV,
		&pos.HealthFactor,
	}
	for i, f := range fields {
		v, ok := out[i].(*big.Int)
		if !ok {
			return nil, domain.Errorf(domain.KindTransactionReverted, op, "getUserAccountData 第 %d 个返回值类型错误", i)
		}
		*f = v
	}
	return pos, nil
}

// Deposit 存入抵押品；调用前需授权 LendingPool
func (m *Manager) Deposit(ctx context.Context, asset domain.Asset, amount *big.Int, account common.Address) (*domain.Receipt, error) {
	const op = "lending.deposit"
	if err := checkAmount(op, amount); err != nil {
		return nil, err
	}
	return m.send(ctx, op, nil, "deposit", asset.Address, amount, account, m.cfg.ReferralCode)
}

// Borrow 借出债务资产；超出可借额度时返回 BorrowCapacityExceeded
func (m *Manager) Borrow(ctx context.Context, asset domain.Asset, amount *big.Int, account common.Address) (*domain.Receipt, error) {
	const op = "lending.borrow"
	if err := checkAmount(op, amount); err != nil {
		return nil, err
	}
	return m.send(ctx, op, borrowRules, "borrow", asset.Address, amount, big.NewInt(m.cfg.InterestRateMode), m.cfg.ReferralCode, account)
}

// Repay 归还债务；调用前需授权 LendingPool，数量不能超过未偿债务
func (m *Manager) Repay(ctx context.Context, asset domain.Asset, amount *big.Int, account common.Address) (*domain.Receipt, error) {
	const op = "lending.repay"
	if err := checkAmount(op, amount); err != nil {
		return nil, err
	}
	return m.send(ctx, op, nil, "repay", asset.Address, amount, big.NewInt(m.cfg.InterestRateMode), account)
}

func (m *Manager) send(ctx context.Context, op string, rules []chain.ReasonRule, method string, args ...interface{}) (*domain.Receipt, error) {
	pool, err := m.Pool(ctx)
	if err != nil {
		return nil, err
	}
	data, err := chain.LendingPool.Pack(method, args...)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidInput, op, err)
	}
	m.log.WithFields(logrus.Fields{"method": method, "asset": args[0], "amount": args[1]}).Info("发送借贷池交易")
	receipt, err := m.tx.Send(ctx, pool, nil, data)
	if err != nil {
		return nil, chain.Classify(op, err, rules...)
	}
	return receipt, nil
}

func checkAmount(op string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Errorf(domain.KindInvalidInput, op, "数量必须大于 0: %v", amount)
	}
	return nil
}
