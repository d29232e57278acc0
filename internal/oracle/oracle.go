package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/domain"
)

// Caller 只读合约调用（*chain.Transactor 实现）
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Client Chainlink 价格源客户端
type Client struct {
	caller Caller
	feeds  map[string]common.Address // 交易对 -> 聚合器地址，例如 "DAI/ETH"
	maxAge time.Duration
	now    func() time.Time
	log    *logrus.Entry

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// Option 客户端选项
type Option func(*Client)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient 创建价格源客户端；maxAge <= 0 表示只检查轮次完整性
func NewClient(caller Caller, feeds map[string]common.Address, maxAge time.Duration, opts ...Option) *Client {
	c := &Client{
		caller:   caller,
		feeds:    feeds,
		maxAge:   maxAge,
		now:      time.Now,
		log:      logrus.WithField("component", "oracle"),
		decimals: map[common.Address]uint8{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetLatestPrice 读取最新报价
// 价格源不可达、报价非正数、轮次未完成或超过 maxAge 都返回 OracleUnavailable
func (c *Client) GetLatestPrice(ctx context.Context, pair string) (*domain.PriceQuote, error) {
	const op = "oracle.getLatestPrice"

	feed, ok := c.feeds[pair]
	if !ok {
		return nil, domain.Errorf(domain.KindInvalidInput, op, "未配置交易对 %s 的价格源", pair)
	}

	decimals, err := c.feedDecimals(ctx, feed)
	if err != nil {
		return nil, domain.NewError(domain.KindOracleUnavailable, op, err)
	}

	data, err := chain.AggregatorV3.Pack("latestRoundData")
	if err != nil {
		return nil, domain.NewError(domain.KindOracleUnavailable, op, err)
	}
	raw, err := c.caller.Call(ctx, feed, data)
	if err != nil {
		return nil, domain.NewError(domain.KindOracleUnavailable, op, fmt.Errorf("调用latestRoundData失败: %w", err))
	}
	out, err := chain.AggregatorV3.Unpack("latestRoundData", raw)
	if err != nil || len(out) != 5 {
		return nil, domain.Errorf(domain.KindOracleUnavailable, op, "解析latestRoundData结果失败: %v", err)
	}

	roundID, _ := out[0].(*big.Int)
	answer, _ := out[1].(*big.Int)
	updatedAt, _ := out[3].(*big.Int)
	answeredInRound, _ := out[4].(*big.Int)

	quote := &domain.PriceQuote{
		Pair:            pair,
		Answer:          answer,
		Decimals:        decimals,
		RoundID:         roundID,
		AnsweredInRound: answeredInRound,
	}
	if updatedAt != nil && updatedAt.Sign() > 0 {
		quote.UpdatedAt = time.Unix(updatedAt.Int64(), 0)
	}

	if answer == nil || answer.Sign() <= 0 {
		return nil, domain.Errorf(domain.KindOracleUnavailable, op, "%s 报价无效: %v", pair, answer)
	}
	now := c.now()
	if quote.IsStale(now, c.maxAge) {
		return nil, domain.Errorf(domain.KindOracleUnavailable, op,
			"%s 报价已过期: round=%v answeredInRound=%v age=%s maxAge=%s",
			pair, roundID, answeredInRound, quote.Age(now).Truncate(time.Second), c.maxAge)
	}

	c.log.WithFields(logrus.Fields{
		"pair":     pair,
		"answer":   answer.String(),
		"decimals": decimals,
		"round":    roundID,
	}).Debug("读取报价")
	return quote, nil
}

// feedDecimals 价格源精度不可变，读取一次后缓存
func (c *Client) feedDecimals(ctx context.Context, feed common.Address) (uint8, error) {
	c.mu.Lock()
	d, ok := c.decimals[feed]
	c.mu.Unlock()
	if ok {
		return d, nil
	}

	data, err := chain.AggregatorV3.Pack("decimals")
	if err != nil {
		return 0, err
	}
	raw, err := c.caller.Call(ctx, feed, data)
	if err != nil {
		return 0, fmt.Errorf("调用decimals失败: %w", err)
	}
	var decimals uint8
	if err := chain.AggregatorV3.UnpackIntoInterface(&decimals, "decimals", raw); err != nil {
		return 0, fmt.Errorf("解析decimals结果失败: %w", err)
	}

	c.mu.Lock()
	c.decimals[feed] = decimals
	c.mu.Unlock()
	return decimals, nil
}
