package main

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/journal"
	"github.com/betbot/levercycle/internal/workflow"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

var testAssets = assetSet{
	collateral: domain.Asset{Symbol: "WETH", Decimals: 18},
	debt:       domain.Asset{Symbol: "DAI", Decimals: 18},
	reserve:    domain.Asset{Symbol: "ETH", Decimals: 18, Native: true},
}

func TestRenderReport_Settled(t *testing.T) {
	r := &workflow.Report{
		RunID:           "run-1",
		Account:         common.HexToAddress("0x01"),
		State:           workflow.StateSettled,
		Deposited:       ether(2),
		Borrowed:        ether(3040),
		Repaid:          ether(3040),
		RepayIterations: 1,
		Swap:            &domain.SwapResult{AmountIn: ether(3), MinimumOut: ether(5970)},
		Steps: []workflow.StepRecord{
			{Step: workflow.StepDeposit, TxHashes: []string{"0xaaa", "0xbbb"}},
		},
		Position: &domain.Position{TotalCollateralBase: ether(2), TotalDebtBase: new(big.Int), AvailableBorrowsBase: ether(1)},
	}

	out := renderReport(r, testAssets)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "Settled")
	assert.Contains(t, out, "3040.0000 DAI")
	assert.Contains(t, out, "3.0000 ETH")
	assert.Contains(t, out, "0xbbb")
	assert.NotContains(t, out, "failed step")
	assert.NotContains(t, out, "residual debt")
}

func TestRenderReport_Failed(t *testing.T) {
	r := &workflow.Report{
		RunID:        "run-2",
		State:        workflow.StateFailed,
		FailedStep:   workflow.StepBorrow,
		LastState:    workflow.StateDeposited,
		ErrorKind:    domain.KindOracleUnavailable,
		Error:        "stale",
		TxHash:       "0xabc123",
		ResidualDebt: ether(400),
	}

	out := renderReport(r, testAssets)
	assert.Contains(t, out, "failed step")
	assert.Contains(t, out, "borrow")
	assert.Contains(t, out, "Deposited")
	assert.Contains(t, out, string(domain.KindOracleUnavailable))
	assert.Contains(t, out, "400.0000 DAI")
	assert.Contains(t, out, "0xabc123")
}

func TestRenderReport_DustResidual(t *testing.T) {
	r := &workflow.Report{
		RunID:            "run-3",
		State:            workflow.StateSettled,
		ResidualDebtBase: big.NewInt(500_000),
	}
	out := renderReport(r, testAssets)
	assert.Contains(t, out, "residual debt")
	assert.Contains(t, out, "0 DAI (500000 wei base)")

	r.ResidualDebtBase = nil
	assert.NotContains(t, renderReport(r, testAssets), "residual debt")
}

func TestRenderPlanAndRepay(t *testing.T) {
	plan := &workflow.Plan{
		Quote:        &domain.PriceQuote{Pair: "DAI/ETH", Answer: big.NewInt(5e14), Decimals: 18},
		BorrowAmount: ether(3040),
	}
	out := renderPlan(plan, testAssets.debt)
	assert.Contains(t, out, "0.00050000")
	assert.Contains(t, out, "3040.0000 DAI")

	out = renderRepay(&workflow.RepayOutcome{Repaid: ether(100), Iterations: 5, ResidualDebt: ether(400)}, testAssets.debt)
	assert.Contains(t, out, "100.0000 DAI")
	assert.Contains(t, out, "400.0000 DAI")

	out = renderRepay(&workflow.RepayOutcome{Repaid: new(big.Int), ResidualDebt: new(big.Int), ResidualDebtBase: big.NewInt(500_000)}, testAssets.debt)
	assert.Contains(t, out, "500000 wei base")
	assert.NotContains(t, out, "none")
}

func TestRenderRuns(t *testing.T) {
	assert.Equal(t, "no runs recorded", renderRuns(nil))

	out := renderRuns([]journal.Run{
		{ID: "a", State: "Settled", StartedAt: time.Now()},
		{ID: "b", State: "Failed", FailedStep: "swap", LastState: "Borrowed", ErrorKind: "SlippageExceeded", StartedAt: time.Now()},
	})
	assert.Contains(t, out, "at swap (last Borrowed, SlippageExceeded)")
}

func TestHealthFactor(t *testing.T) {
	assert.Equal(t, "∞", healthFactor(nil))
	huge := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.Equal(t, "∞", healthFactor(huge))
	assert.Equal(t, "1.5000", healthFactor(big.NewInt(15e17)))
}
