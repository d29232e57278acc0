package chaintest

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type balances map[common.Address]*big.Int

func (b balances) get(a common.Address) *big.Int {
	if v, ok := b[a]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b balances) add(a common.Address, v *big.Int) {
	b[a] = new(big.Int).Add(b.get(a), v)
}

func (b balances) sub(a common.Address, v *big.Int) {
	b[a] = new(big.Int).Sub(b.get(a), v)
}

func (b balances) clone() balances {
	out := make(balances, len(b))
	for k, v := range b {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

// Token 模拟 ERC20
type Token struct {
	Symbol     string
	Decimals   uint8
	balances   balances
	allowances map[common.Address]balances // owner -> spender -> amount
}

func (t *Token) clone() *Token {
	out := &Token{
		Symbol:     t.Symbol,
		Decimals:   t.Decimals,
		balances:   t.balances.clone(),
		allowances: make(map[common.Address]balances, len(t.allowances)),
	}
	for owner, m := range t.allowances {
		out.allowances[owner] = m.clone()
	}
	return out
}

func (t *Token) allowance(owner, spender common.Address) *big.Int {
	if m, ok := t.allowances[owner]; ok {
		return m.get(spender)
	}
	return new(big.Int)
}

func (t *Token) setAllowance(owner, spender common.Address, v *big.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = balances{}
		t.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(v)
}

// transferFrom 按 OpenZeppelin ERC20 的检查顺序：先余额后授权
func (t *Token) transferFrom(spender, from, to common.Address, amount *big.Int) error {
	if t.balances.get(from).Cmp(amount) < 0 {
		return revert("ERC20: transfer amount exceeds balance")
	}
	if spender != from {
		allowed := t.allowance(from, spender)
		if allowed.Cmp(amount) < 0 {
			return revert("ERC20: transfer amount exceeds allowance")
		}
		t.setAllowance(from, spender, new(big.Int).Sub(allowed, amount))
	}
	t.balances.sub(from, amount)
	t.balances.add(to, amount)
	return nil
}

// Feed 模拟 Chainlink 聚合器
type Feed struct {
	Description     string
	Decimals        uint8
	Answer          *big.Int
	RoundID         *big.Int
	AnsweredInRound *big.Int
	UpdatedAt       time.Time
}

// LendingPool 模拟 Aave v2 借贷池（单一抵押品、单一债务资产）
// 抵押品按 1:1 计入基础货币（WETH），债务按 Feed 价格折算
type LendingPool struct {
	Address         common.Address
	Provider        common.Address
	CollateralAsset common.Address
	DebtAsset       common.Address
	PriceFeed       common.Address
	LTVBips         int64
	LiqThreshold    int64
	collateral      balances
	debt            balances
}

func (p *LendingPool) clone() *LendingPool {
	out := *p
	out.collateral = p.collateral.clone()
	out.debt = p.debt.clone()
	return &out
}

// Router 模拟 UniswapV2Router02：固定汇率报价，执行时按 DriftBips 少给
type Router struct {
	Address   common.Address
	Factory   common.Address
	Pair      common.Address
	WETH      common.Address
	OutToken  common.Address
	RateNum   *big.Int // 输出 = 输入 * RateNum / RateDen
	RateDen   *big.Int
	DriftBips int64 // 报价到执行之间的价格漂移
	Reserve0  *big.Int
	Reserve1  *big.Int
}

type state struct {
	native balances
	tokens map[common.Address]*Token
	pool   *LendingPool
	feeds  map[common.Address]*Feed
	router *Router
}

func (s *state) clone() *state {
	out := &state{
		native: s.native.clone(),
		tokens: make(map[common.Address]*Token, len(s.tokens)),
		feeds:  s.feeds,
		router: s.router,
	}
	for a, t := range s.tokens {
		out.tokens[a] = t.clone()
	}
	if s.pool != nil {
		out.pool = s.pool.clone()
	}
	return out
}
