package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/betbot/levercycle/pkg/ratelimit"
)

// Backend 以太坊节点访问接口（*ethclient.Client 的子集）
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ThrottledBackend 对 RPC 调用限流的 Backend 包装
type ThrottledBackend struct {
	Backend
	limiter ratelimit.RateLimiter
}

// NewThrottledBackend 创建限流 Backend；limiter 为 nil 时直接返回原 Backend
func NewThrottledBackend(b Backend, limiter ratelimit.RateLimiter) Backend {
	if limiter == nil {
		return b
	}
	return &ThrottledBackend{Backend: b, limiter: limiter}
}

func (t *ThrottledBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Backend.CallContract(ctx, msg, blockNumber)
}

func (t *ThrottledBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return t.Backend.PendingNonceAt(ctx, account)
}

func (t *ThrottledBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Backend.SuggestGasPrice(ctx)
}

func (t *ThrottledBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return t.Backend.EstimateGas(ctx, msg)
}

// SendTransaction 不限流：交易一旦构建就必须尽快提交
func (t *ThrottledBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return t.Backend.SendTransaction(ctx, tx)
}

func (t *ThrottledBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Backend.TransactionReceipt(ctx, txHash)
}

func (t *ThrottledBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return t.Backend.BlockNumber(ctx)
}
