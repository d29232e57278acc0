package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/betbot/levercycle/internal/chain"
)

// revertError 模拟节点的回滚错误（code=3，data 为 Error(string) 编码）
type revertError struct {
	reason string
	data   []byte
}

func revert(reason string) error {
	stringTy, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringTy}}.Pack(reason)
	data := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
	return &revertError{reason: reason, data: data}
}

func (e *revertError) Error() string          { return "execution reverted: " + e.reason }
func (e *revertError) ErrorCode() int         { return 3 }
func (e *revertError) ErrorData() interface{} { return hexutil.Encode(e.data) }

// call 一次合约调用的上下文
type call struct {
	from  common.Address
	to    common.Address
	value *big.Int
	data  []byte
}

func decode(a *abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, revert("")
	}
	m, err := a.MethodById(data[:4])
	if err != nil {
		return nil, nil, revert("")
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unpack %s: %w", m.Name, err)
	}
	return m, args, nil
}

// exec 在给定状态上执行调用；返回 ABI 编码的返回值与方法名
func (c *Chain) exec(s *state, in call) ([]byte, string, error) {
	if tok, ok := s.tokens[in.to]; ok {
		return c.execToken(tok, in)
	}
	if s.pool != nil && in.to == s.pool.Provider {
		m, _, err := decode(chain.AddressesProvider, in.data)
		if err != nil {
			return nil, "", err
		}
		out, err := m.Outputs.Pack(s.pool.Address)
		return out, m.Name, err
	}
	if s.pool != nil && in.to == s.pool.Address {
		return c.execPool(s, in)
	}
	if f, ok := s.feeds[in.to]; ok {
		return execFeed(f, in)
	}
	if s.router != nil {
		switch in.to {
		case s.router.Address:
			return c.execRouter(s, in)
		case s.router.Factory:
			m, _, err := decode(chain.FactoryV2, in.data)
			if err != nil {
				return nil, "", err
			}
			out, err := m.Outputs.Pack(s.router.Pair)
			return out, m.Name, err
		case s.router.Pair:
			m, _, err := decode(chain.PairV2, in.data)
			if err != nil {
				return nil, "", err
			}
			var out []byte
			switch m.Name {
			case "getReserves":
				out, err = m.Outputs.Pack(s.router.Reserve0, s.router.Reserve1, uint32(c.now().Unix()))
			case "token0":
				out, err = m.Outputs.Pack(s.router.WETH)
			}
			return out, m.Name, err
		}
	}
	return nil, "", nil
}

func (c *Chain) execToken(tok *Token, in call) ([]byte, string, error) {
	m, args, err := decode(chain.ERC20, in.data)
	if err != nil {
		return nil, "", err
	}
	var out []byte
	switch m.Name {
	case "balanceOf":
		out, err = m.Outputs.Pack(tok.balances.get(args[0].(common.Address)))
	case "allowance":
		out, err = m.Outputs.Pack(tok.allowance(args[0].(common.Address), args[1].(common.Address)))
	case "approve":
		tok.setAllowance(in.from, args[0].(common.Address), args[1].(*big.Int))
		out, err = m.Outputs.Pack(true)
	case "decimals":
		out, err = m.Outputs.Pack(tok.Decimals)
	case "symbol":
		out, err = m.Outputs.Pack(tok.Symbol)
	}
	return out, m.Name, err
}

func execFeed(f *Feed, in call) ([]byte, string, error) {
	m, _, err := decode(chain.AggregatorV3, in.data)
	if err != nil {
		return nil, "", err
	}
	var out []byte
	switch m.Name {
	case "latestRoundData":
		updated := big.NewInt(0)
		if !f.UpdatedAt.IsZero() {
			updated = big.NewInt(f.UpdatedAt.Unix())
		}
		out, err = m.Outputs.Pack(f.RoundID, f.Answer, updated, updated, f.AnsweredInRound)
	case "decimals":
		out, err = m.Outputs.Pack(f.Decimals)
	case "description":
		out, err = m.Outputs.Pack(f.Description)
	}
	return out, m.Name, err
}

// debtToBase 债务资产数量折算为基础货币（18 位精度）
func debtToBase(s *state, amount *big.Int) *big.Int {
	p := s.pool
	f := s.feeds[p.PriceFeed]
	debtTok := s.tokens[p.DebtAsset]
	v := new(big.Int).Mul(amount, f.Answer)
	v.Mul(v, pow10(18))
	v.Quo(v, pow10(f.Decimals))
	return v.Quo(v, pow10(debtTok.Decimals))
}

func accountData(s *state, user common.Address) (collateral, debt, available *big.Int) {
	p := s.pool
	collateral = p.collateral.get(user)
	debt = debtToBase(s, p.debt.get(user))
	capacity := new(big.Int).Mul(collateral, big.NewInt(p.LTVBips))
	capacity.Quo(capacity, big.NewInt(10000))
	available = new(big.Int).Sub(capacity, debt)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	return collateral, debt, available
}

func (c *Chain) execPool(s *state, in call) ([]byte, string, error) {
	m, args, err := decode(chain.LendingPool, in.data)
	if err != nil {
		return nil, "", err
	}
	p := s.pool
	switch m.Name {
	case "getUserAccountData":
		collateral, debt, available := accountData(s, args[0].(common.Address))
		hf := new(big.Int).Set(math.MaxBig256)
		if debt.Sign() > 0 {
			hf = new(big.Int).Mul(collateral, big.NewInt(p.LiqThreshold))
			hf.Mul(hf, pow10(18))
			hf.Quo(hf, new(big.Int).Mul(debt, big.NewInt(10000)))
		}
		out, err := m.Outputs.Pack(collateral, debt, available, big.NewInt(p.LiqThreshold), big.NewInt(p.LTVBips), hf)
		return out, m.Name, err
	case "deposit":
		asset, amount, onBehalf := args[0].(common.Address), args[1].(*big.Int), args[2].(common.Address)
		if asset != p.CollateralAsset {
			return nil, m.Name, revert("2")
		}
		if amount.Sign() == 0 {
			return nil, m.Name, revert("1")
		}
		if err := s.tokens[asset].transferFrom(p.Address, in.from, p.Address, amount); err != nil {
			return nil, m.Name, err
		}
		p.collateral.add(onBehalf, amount)
		return nil, m.Name, nil
	case "borrow":
		asset, amount, onBehalf := args[0].(common.Address), args[1].(*big.Int), args[4].(common.Address)
		if asset != p.DebtAsset {
			return nil, m.Name, revert("2")
		}
		if amount.Sign() == 0 {
			return nil, m.Name, revert("1")
		}
		collateral, _, available := accountData(s, onBehalf)
		if collateral.Sign() == 0 {
			return nil, m.Name, revert("9")
		}
		if debtToBase(s, amount).Cmp(available) > 0 {
			return nil, m.Name, revert("11")
		}
		p.debt.add(onBehalf, amount)
		s.tokens[asset].balances.add(in.from, amount)
		return nil, m.Name, nil
	case "repay":
		asset, amount, onBehalf := args[0].(common.Address), args[1].(*big.Int), args[3].(common.Address)
		if asset != p.DebtAsset {
			return nil, m.Name, revert("2")
		}
		owed := p.debt.get(onBehalf)
		if owed.Sign() == 0 {
			return nil, m.Name, revert("15")
		}
		if amount.Sign() == 0 {
			return nil, m.Name, revert("1")
		}
		if amount.Cmp(owed) > 0 {
			return nil, m.Name, revert("repay amount exceeds debt")
		}
		if err := s.tokens[asset].transferFrom(p.Address, in.from, p.Address, amount); err != nil {
			return nil, m.Name, err
		}
		p.debt.sub(onBehalf, amount)
		out, err := m.Outputs.Pack(amount)
		return out, m.Name, err
	}
	return nil, m.Name, nil
}

func (r *Router) quote(amountIn *big.Int) *big.Int {
	out := new(big.Int).Mul(amountIn, r.RateNum)
	return out.Quo(out, r.RateDen)
}

func (c *Chain) execRouter(s *state, in call) ([]byte, string, error) {
	m, args, err := decode(chain.RouterV2, in.data)
	if err != nil {
		return nil, "", err
	}
	r := s.router
	liquid := r.Reserve0 != nil && r.Reserve0.Sign() > 0 && r.Reserve1 != nil && r.Reserve1.Sign() > 0
	switch m.Name {
	case "factory":
		out, err := m.Outputs.Pack(r.Factory)
		return out, m.Name, err
	case "getAmountsOut":
		if !liquid {
			return nil, m.Name, revert("UniswapV2Library: INSUFFICIENT_LIQUIDITY")
		}
		amountIn := args[0].(*big.Int)
		out, err := m.Outputs.Pack([]*big.Int{amountIn, r.quote(amountIn)})
		return out, m.Name, err
	case "swapExactETHForTokens", "swapExactTokensForTokens":
		var amountIn, minOut, deadline *big.Int
		var path []common.Address
		var to common.Address
		if m.Name == "swapExactETHForTokens" {
			minOut, path, to, deadline = args[0].(*big.Int), args[1].([]common.Address), args[2].(common.Address), args[3].(*big.Int)
			amountIn = in.value
			if len(path) == 0 || path[0] != r.WETH {
				return nil, m.Name, revert("UniswapV2Router: INVALID_PATH")
			}
		} else {
			amountIn, minOut, path, to, deadline = args[0].(*big.Int), args[1].(*big.Int), args[2].([]common.Address), args[3].(common.Address), args[4].(*big.Int)
			tok, ok := s.tokens[path[0]]
			if !ok {
				return nil, m.Name, revert("UniswapV2Router: INVALID_PATH")
			}
			if err := tok.transferFrom(r.Address, in.from, r.Pair, amountIn); err != nil {
				return nil, m.Name, revert("TransferHelper: TRANSFER_FROM_FAILED")
			}
		}
		if deadline.Int64() < c.now().Unix() {
			return nil, m.Name, revert("UniswapV2Router: EXPIRED")
		}
		if !liquid {
			return nil, m.Name, revert("UniswapV2Library: INSUFFICIENT_LIQUIDITY")
		}
		quoted := r.quote(amountIn)
		executed := new(big.Int).Mul(quoted, big.NewInt(10000-r.DriftBips))
		executed.Quo(executed, big.NewInt(10000))
		if executed.Cmp(minOut) < 0 {
			return nil, m.Name, revert("UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT")
		}
		s.tokens[path[len(path)-1]].balances.add(to, executed)
		out, err := m.Outputs.Pack([]*big.Int{amountIn, executed})
		return out, m.Name, err
	}
	return nil, m.Name, nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
