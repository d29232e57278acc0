package chaintest

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// World 一套完整的测试环境：WETH 抵押、DAI 借款、DAI/ETH 价格源、借贷池与路由
type World struct {
	Chain    *Chain
	Key      *ecdsa.PrivateKey
	User     common.Address
	WETH     common.Address
	DAI      common.Address
	Feed     common.Address
	Provider common.Address
	Pool     common.Address
	Router   *Router
}

// Ether 返回 n * 1e18
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(18))
}

// NewWorld 默认参数：1 DAI = 0.0005 ETH，LTV 80%，用户持有 10 WETH 与 100 ETH
func NewWorld() *World {
	c := New()
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	w := &World{Chain: c, Key: key, User: crypto.PubkeyToAddress(key.PublicKey)}
	w.WETH = c.AddToken("WETH", 18)
	w.DAI = c.AddToken("DAI", 18)
	w.Feed = c.AddFeed("DAI / ETH", big.NewInt(500_000_000_000_000), 18)
	w.Provider, w.Pool = c.AddLendingPool(w.WETH, w.DAI, w.Feed, 8000, 8250)
	w.Router = c.AddRouter(w.WETH, w.DAI, big.NewInt(2000), big.NewInt(1))
	c.Mint(w.WETH, w.User, Ether(10))
	c.SetNative(w.User, Ether(100))
	return w
}
