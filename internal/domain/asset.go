package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BaseCurrencyDecimals 借贷协议基础货币精度（Aave v2 以 ETH wei 计价）
const BaseCurrencyDecimals uint8 = 18

// Asset 链上同质化代币（不可变的参考数据）
type Asset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Native   bool // 原生币（ETH），swap 时作为 msg.value 发送
}

func (a Asset) String() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Address.Hex()
}

// Validate 基本校验
func (a Asset) Validate() error {
	if a.Address == (common.Address{}) {
		return fmt.Errorf("asset %s: address is empty", a.Symbol)
	}
	if a.Decimals > 36 {
		return fmt.Errorf("asset %s: unsupported decimals %d", a.Symbol, a.Decimals)
	}
	return nil
}

// Allowance (owner, spender, asset) -> 已授权数量
type Allowance struct {
	Owner   common.Address
	Spender common.Address
	Asset   Asset
	Amount  *big.Int
}

// Covers 已授权数量是否覆盖 amount
func (a Allowance) Covers(amount *big.Int) bool {
	return a.Amount != nil && amount != nil && a.Amount.Cmp(amount) >= 0
}
