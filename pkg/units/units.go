package units

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BipsDenominator 基点分母（10000 bips = 100%）
const BipsDenominator = 10000

// ToBaseUnits 把人类可读数量转换为链上最小单位（按 decimals 截断，不四舍五入）
// 例如：0.02 WETH (18 decimals) -> 20000000000000000
func ToBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits 把链上最小单位转换为人类可读数量
func FromBaseUnits(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

// Format 格式化链上数量（用于日志），保留 places 位小数
func Format(v *big.Int, decimals uint8, places int32) string {
	return FromBaseUnits(v, decimals).StringFixed(places)
}

// Pow10 返回 10^n
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ApplyBips 计算 amount * (10000 - bips) / 10000（向下取整）
// 用于安全边际和滑点：ApplyBips(1000, 50) = 995
func ApplyBips(amount *big.Int, bips uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	if bips >= BipsDenominator {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(BipsDenominator-bips)))
	return out.Quo(out, big.NewInt(BipsDenominator))
}

// Min 返回较小值（不修改入参）
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// IsPositive nil 安全的 > 0 判断
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
