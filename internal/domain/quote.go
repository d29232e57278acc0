package domain

import (
	"math/big"
	"time"
)

// PriceQuote 预言机报价：1 个 Base 资产值多少 Quote 资产
// Answer 按 Decimals 定点表示，例如 DAI/ETH = 0.0003 (18 decimals)
type PriceQuote struct {
	Pair            string
	Answer          *big.Int
	Decimals        uint8
	RoundID         *big.Int
	AnsweredInRound *big.Int
	UpdatedAt       time.Time
}

// Age 报价距 now 的时长
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.UpdatedAt)
}

// MaxClockSkew updatedAt 允许超前本地时钟的上限
const MaxClockSkew = time.Minute

// IsStale 报价是否过期：轮次未完成、更新时间超前本地时钟超过 MaxClockSkew、或超过 maxAge
// maxAge <= 0 表示不检查时间
func (q PriceQuote) IsStale(now time.Time, maxAge time.Duration) bool {
	if q.RoundID != nil && q.AnsweredInRound != nil && q.AnsweredInRound.Cmp(q.RoundID) < 0 {
		return true
	}
	if q.UpdatedAt.IsZero() || q.UpdatedAt.After(now.Add(MaxClockSkew)) {
		return true
	}
	return maxAge > 0 && q.Age(now) > maxAge
}
