package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt 已确认交易回执
type Receipt struct {
	TxHash        common.Hash
	BlockNumber   uint64
	GasUsed       uint64
	Confirmations uint64
}

// Hex 交易哈希字符串（nil 安全）
func (r *Receipt) Hex() string {
	if r == nil {
		return ""
	}
	return r.TxHash.Hex()
}

// SwapResult swap 执行结果
type SwapResult struct {
	Approval   *Receipt // 代币输入时的路由授权交易；已有足够授权或原生币输入时为 nil
	Receipt    *Receipt
	Path       []common.Address
	AmountIn   *big.Int
	QuotedOut  *big.Int
	MinimumOut *big.Int
	Deadline   int64
}
