package chaintest

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AddToken 部署模拟 ERC20
func (c *Chain) AddToken(symbol string, decimals uint8) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := c.newAddress()
	c.state.tokens[addr] = &Token{
		Symbol:     symbol,
		Decimals:   decimals,
		balances:   balances{},
		allowances: map[common.Address]balances{},
	}
	return addr
}

// Mint 给 owner 铸造代币
func (c *Chain) Mint(token, owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.tokens[token].balances.add(owner, amount)
}

// SetNative 设置原生币余额
func (c *Chain) SetNative(owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.native[owner] = new(big.Int).Set(amount)
}

// Balance 代币余额
func (c *Chain) Balance(token, owner common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.tokens[token].balances.get(owner)
}

// Allowance 代币授权
func (c *Chain) Allowance(token, owner, spender common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.tokens[token].allowance(owner, spender)
}

// NativeBalance 原生币余额
func (c *Chain) NativeBalance(owner common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.native.get(owner)
}

// AddFeed 部署模拟价格源（默认刚更新、轮次完整）
func (c *Chain) AddFeed(description string, answer *big.Int, decimals uint8) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := c.newAddress()
	c.state.feeds[addr] = &Feed{
		Description:     description,
		Decimals:        decimals,
		Answer:          new(big.Int).Set(answer),
		RoundID:         big.NewInt(42),
		AnsweredInRound: big.NewInt(42),
		UpdatedAt:       c.now(),
	}
	return addr
}

// Feed 返回价格源（可直接修改字段模拟过期、异常报价）
func (c *Chain) Feed(addr common.Address) *Feed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.feeds[addr]
}

// SetFeedUpdatedAt 修改价格源更新时间
func (c *Chain) SetFeedUpdatedAt(addr common.Address, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.feeds[addr].UpdatedAt = at
}

// AddLendingPool 部署借贷池与地址提供者，返回 (provider, pool)
func (c *Chain) AddLendingPool(collateral, debt, feed common.Address, ltvBips, liqThresholdBips int64) (common.Address, common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	provider, pool := c.newAddress(), c.newAddress()
	c.state.pool = &LendingPool{
		Address:         pool,
		Provider:        provider,
		CollateralAsset: collateral,
		DebtAsset:       debt,
		PriceFeed:       feed,
		LTVBips:         ltvBips,
		LiqThreshold:    liqThresholdBips,
		collateral:      balances{},
		debt:            balances{},
	}
	return provider, pool
}

// Debt 账户在借贷池中的债务（债务资产单位）
func (c *Chain) Debt(user common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.pool.debt.get(user)
}

// Collateral 账户在借贷池中的抵押品
func (c *Chain) Collateral(user common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.pool.collateral.get(user)
}

// SetDebt 直接设置债务（构造测试场景）
func (c *Chain) SetDebt(user common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.pool.debt[user] = new(big.Int).Set(amount)
}

// SetCollateral 直接设置抵押品（构造测试场景）
func (c *Chain) SetCollateral(user common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.pool.collateral[user] = new(big.Int).Set(amount)
}

// AddRouter 部署路由/工厂/交易对：输入 weth 输出 out，汇率 num/den
func (c *Chain) AddRouter(weth, out common.Address, num, den *big.Int) *Router {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &Router{
		Address:  c.newAddress(),
		Factory:  c.newAddress(),
		Pair:     c.newAddress(),
		WETH:     weth,
		OutToken: out,
		RateNum:  new(big.Int).Set(num),
		RateDen:  new(big.Int).Set(den),
		Reserve0: new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil),
		Reserve1: new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil),
	}
	c.state.router = r
	return r
}
