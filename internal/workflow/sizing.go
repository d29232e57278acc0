package workflow

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/pkg/units"
)

// BorrowAmount 借款数量（债务资产最小单位，向下取整）
//
//	headroom × (1 − margin) × 10^feedDecimals × 10^debtDecimals / (price × 10^18)
//
// price 为 1 个债务资产值多少基础货币
func BorrowAmount(headroom *big.Int, marginBips uint32, quote *domain.PriceQuote, debtDecimals uint8) *big.Int {
	usable := units.ApplyBips(headroom, marginBips)
	return baseToDebt(usable, quote, debtDecimals)
}

// DebtInUnits 基础货币计价的债务折算为债务资产数量（向下取整，保证不超过实际债务）
func DebtInUnits(debtBase *big.Int, quote *domain.PriceQuote, debtDecimals uint8) *big.Int {
	return baseToDebt(debtBase, quote, debtDecimals)
}

// SwapInput 兑换输入数量：totalDebtBase × multiplier，换算到储备资产精度（向下取整）
func SwapInput(totalDebtBase *big.Int, multiplier decimal.Decimal, reserveDecimals uint8) *big.Int {
	if totalDebtBase == nil || totalDebtBase.Sign() <= 0 || !multiplier.IsPositive() {
		return new(big.Int)
	}
	v := decimal.NewFromBigInt(totalDebtBase, 0).Mul(multiplier)
	v = v.Shift(int32(reserveDecimals) - int32(domain.BaseCurrencyDecimals))
	return v.Truncate(0).BigInt()
}

func baseToDebt(base *big.Int, quote *domain.PriceQuote, debtDecimals uint8) *big.Int {
	if base == nil || base.Sign() <= 0 || quote == nil || quote.Answer == nil || quote.Answer.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(base, units.Pow10(quote.Decimals))
	num.Mul(num, units.Pow10(debtDecimals))
	den := new(big.Int).Mul(quote.Answer, units.Pow10(domain.BaseCurrencyDecimals))
	return num.Quo(num, den)
}
