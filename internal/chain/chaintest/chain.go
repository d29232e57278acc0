// Package chaintest 提供内存版的链模拟（实现 chain.Backend），
// 用真实 ABI 解码 calldata，模拟 ERC20、Aave v2 借贷池、Chainlink 聚合器与 UniswapV2 路由。
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Call 已上链交易记录（用于断言）
type Call struct {
	Hash     common.Hash
	From     common.Address
	To       common.Address
	Value    *big.Int
	Method   string
	Reverted bool
}

// Chain 内存链
type Chain struct {
	mu sync.Mutex

	ChainID *big.Int
	Now     func() time.Time

	// 注入：对指定合约的只读调用直接失败（模拟节点/预言机不可达）
	FailCalls map[common.Address]error
	// 注入：交易照常执行但永远查不到回执（模拟确认超时）
	HoldReceipts bool
	// 注入：只对这些方法的交易扣住回执
	HoldMethods map[string]bool
	// 交易执行后回调（不持锁），测试用来在指定交易发出后取消 ctx
	OnSend func(Call)
	// 注入：跳过 gas 预估阶段的回滚检测，让回滚发生在上链后
	SkipEstimateRevert bool

	state    *state
	block    uint64
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*ethtypes.Receipt
	calls    []Call
	nextAddr int64
}

// New 创建空链
func New() *Chain {
	return &Chain{
		ChainID:   big.NewInt(1337),
		Now:       time.Now,
		FailCalls: map[common.Address]error{},
		state: &state{
			native: balances{},
			tokens: map[common.Address]*Token{},
			feeds:  map[common.Address]*Feed{},
		},
		block:    100,
		nonces:   map[common.Address]uint64{},
		receipts: map[common.Hash]*ethtypes.Receipt{},
		nextAddr: 0x1000,
	}
}

func (c *Chain) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Chain) newAddress() common.Address {
	c.nextAddr++
	return common.BigToAddress(big.NewInt(c.nextAddr))
}

// Calls 已上链交易（按顺序）
func (c *Chain) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Methods 已上链交易的方法名序列
func (c *Chain) Methods() []string {
	calls := c.Calls()
	out := make([]string, 0, len(calls))
	for _, cl := range calls {
		out = append(out, cl.Method)
	}
	return out
}

// CallContract 只读调用：在状态副本上执行
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.To == nil {
		return nil, errors.New("contract creation not supported")
	}
	if err, ok := c.FailCalls[*msg.To]; ok {
		return nil, err
	}
	out, _, err := c.run(c.state.clone(), msg)
	return out, err
}

// EstimateGas 在状态副本上执行；回滚直接返回回滚错误
func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.To == nil {
		return 0, errors.New("contract creation not supported")
	}
	if _, _, err := c.run(c.state.clone(), msg); err != nil && !c.SkipEstimateRevert {
		return 0, err
	}
	return 100_000, nil
}

func (c *Chain) run(s *state, msg ethereum.CallMsg) ([]byte, string, error) {
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() > 0 {
		if s.native.get(msg.From).Cmp(value) < 0 {
			return nil, "", fmt.Errorf("insufficient funds for gas * price + value")
		}
		s.native.sub(msg.From, value)
		s.native.add(*msg.To, value)
	}
	return c.exec(s, call{from: msg.From, to: *msg.To, value: value, data: msg.Data})
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// SendTransaction 执行交易并出块；回滚时状态不变、回执 status=0
func (c *Chain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	sent, err := c.send(tx)
	if err != nil {
		return err
	}
	if c.OnSend != nil {
		c.OnSend(sent)
	}
	return nil
}

func (c *Chain) send(tx *ethtypes.Transaction) (Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from, err := ethtypes.Sender(ethtypes.NewEIP155Signer(c.ChainID), tx)
	if err != nil {
		return Call{}, fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != c.nonces[from] {
		return Call{}, fmt.Errorf("nonce too low: have %d want %d", tx.Nonce(), c.nonces[from])
	}
	c.nonces[from]++
	c.block++

	next := c.state.clone()
	_, method, execErr := c.run(next, ethereum.CallMsg{From: from, To: tx.To(), Value: tx.Value(), Data: tx.Data()})
	status := ethtypes.ReceiptStatusSuccessful
	if execErr != nil {
		status = ethtypes.ReceiptStatusFailed
	} else {
		c.state = next
	}
	c.receipts[tx.Hash()] = &ethtypes.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     90_000,
	}
	sent := Call{
		Hash:     tx.Hash(),
		From:     from,
		To:       *tx.To(),
		Value:    new(big.Int).Set(tx.Value()),
		Method:   method,
		Reverted: execErr != nil,
	}
	c.calls = append(c.calls, sent)
	return sent, nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.HoldReceipts || c.held(txHash) {
		return nil, ethereum.NotFound
	}
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *Chain) held(txHash common.Hash) bool {
	if len(c.HoldMethods) == 0 {
		return false
	}
	for _, cl := range c.calls {
		if cl.Hash == txHash {
			return c.HoldMethods[cl.Method]
		}
	}
	return false
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

// Mine 空出块（用于多确认测试）
func (c *Chain) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
}
