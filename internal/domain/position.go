package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position 借贷账户的派生视图（金额以协议基础货币计价，BaseCurrencyDecimals 精度）
// 每一步都重新读取，不跨步骤缓存
type Position struct {
	Account              common.Address
	TotalCollateralBase  *big.Int
	TotalDebtBase        *big.Int
	AvailableBorrowsBase *big.Int // 协议返回的剩余可借额度（已扣除当前债务），即 headroom
	LiquidationThreshold *big.Int // bips
	LTV                  *big.Int // bips
	HealthFactor         *big.Int // 1e18 = 1.0
}

// Headroom 剩余可借额度（>= 0）
func (p *Position) Headroom() *big.Int {
	if p == nil || p.AvailableBorrowsBase == nil || p.AvailableBorrowsBase.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(p.AvailableBorrowsBase)
}

// HasDebt 是否仍有未偿债务
func (p *Position) HasDebt() bool {
	return p != nil && p.TotalDebtBase != nil && p.TotalDebtBase.Sign() > 0
}

// Debt 当前债务（基础货币），nil 安全
func (p *Position) Debt() *big.Int {
	if p == nil || p.TotalDebtBase == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.TotalDebtBase)
}
