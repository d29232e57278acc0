package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/journal"
	"github.com/betbot/levercycle/internal/workflow"
	"github.com/betbot/levercycle/pkg/units"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

type assetSet struct {
	collateral domain.Asset
	debt       domain.Asset
	reserve    domain.Asset
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func amount(v *big.Int, a domain.Asset) string {
	if v == nil {
		return "-"
	}
	return units.Format(v, a.Decimals, 4) + " " + a.String()
}

func base(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return units.Format(v, domain.BaseCurrencyDecimals, 6) + " ETH"
}

func healthFactor(hf *big.Int) string {
	if hf == nil || hf.BitLen() > 128 {
		return "∞"
	}
	return units.Format(hf, 18, 4)
}

func positionRows(p *domain.Position) []string {
	if p == nil {
		return nil
	}
	return []string{
		row("collateral", base(p.TotalCollateralBase)),
		row("debt", base(p.TotalDebtBase)),
		row("headroom", base(p.Headroom())),
		row("health factor", healthFactor(p.HealthFactor)),
	}
}

// residualDebt 剩余债务；折算成债务单位不足 1 个最小单位时只有基础货币数值，按 wei 展示
func residualDebt(debt, debtBase *big.Int, a domain.Asset) (string, bool) {
	if !units.IsPositive(debt) && !units.IsPositive(debtBase) {
		return "", false
	}
	s := amount(debt, a)
	if debt == nil {
		s = "0 " + a.String()
	}
	if units.IsPositive(debtBase) {
		s += fmt.Sprintf(" (%s wei base)", debtBase.String())
	}
	return failStyle.Render(s), true
}

// renderReport 运行报告
func renderReport(r *workflow.Report, a assetSet) string {
	state := okStyle.Render(string(r.State))
	if !r.Succeeded() {
		state = failStyle.Render(string(r.State))
	}
	lines := []string{
		headerStyle.Render("levercycle run " + r.RunID),
		row("account", r.Account.Hex()),
		row("state", state),
	}
	if !r.Succeeded() {
		lines = append(lines,
			row("failed step", r.FailedStep),
			row("last state", string(r.LastState)),
			row("error kind", string(r.ErrorKind)),
			row("error", r.Error),
		)
		if r.TxHash != "" {
			lines = append(lines, row("tx", r.TxHash))
		}
	}
	lines = append(lines,
		row("deposited", amount(r.Deposited, a.collateral)),
		row("borrowed", amount(r.Borrowed, a.debt)),
	)
	if r.Swap != nil {
		lines = append(lines,
			row("swap in", amount(r.Swap.AmountIn, a.reserve)),
			row("swap min out", amount(r.Swap.MinimumOut, a.debt)),
		)
	}
	lines = append(lines,
		row("repaid", amount(r.Repaid, a.debt)),
		row("repay rounds", fmt.Sprintf("%d", r.RepayIterations)),
	)
	if s, ok := residualDebt(r.ResidualDebt, r.ResidualDebtBase, a.debt); ok {
		lines = append(lines, row("residual debt", s))
	}
	lines = append(lines, positionRows(r.Position)...)

	var txs []string
	for _, s := range r.Steps {
		for _, h := range s.TxHashes {
			txs = append(txs, fmt.Sprintf("%-8s %s", s.Step, h))
		}
	}
	if len(txs) > 0 {
		lines = append(lines, "", strings.Join(txs, "\n"))
	}
	return borderStyle.Render(strings.Join(lines, "\n"))
}

// renderPlan 预演结果
func renderPlan(p *workflow.Plan, debt domain.Asset) string {
	lines := []string{
		headerStyle.Render("levercycle dry run"),
		row("account", p.Account.Hex()),
	}
	lines = append(lines, positionRows(p.Position)...)
	if p.Quote != nil {
		lines = append(lines, row(p.Quote.Pair, units.Format(p.Quote.Answer, p.Quote.Decimals, 8)))
	}
	lines = append(lines, row("would borrow", amount(p.BorrowAmount, debt)))
	return borderStyle.Render(strings.Join(lines, "\n"))
}

// renderRepay 单独还款的结果
func renderRepay(o *workflow.RepayOutcome, debt domain.Asset) string {
	lines := []string{
		headerStyle.Render("levercycle repay"),
		row("repaid", amount(o.Repaid, debt)),
		row("repay rounds", fmt.Sprintf("%d", o.Iterations)),
	}
	if s, ok := residualDebt(o.ResidualDebt, o.ResidualDebtBase, debt); ok {
		lines = append(lines, row("residual debt", s))
	} else {
		lines = append(lines, row("residual debt", okStyle.Render("none")))
	}
	if len(o.TxHashes) > 0 {
		lines = append(lines, "", strings.Join(o.TxHashes, "\n"))
	}
	return borderStyle.Render(strings.Join(lines, "\n"))
}

// renderRuns 运行记录列表
func renderRuns(runs []journal.Run) string {
	if len(runs) == 0 {
		return "no runs recorded"
	}
	lines := []string{headerStyle.Render("recent runs")}
	for _, r := range runs {
		state := okStyle.Render(r.State)
		if r.State != string(workflow.StateSettled) {
			state = failStyle.Render(r.State)
		}
		line := fmt.Sprintf("%s  %s  %s", r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, state)
		if r.FailedStep != "" {
			line += fmt.Sprintf("  at %s (last %s, %s)", r.FailedStep, r.LastState, r.ErrorKind)
		}
		lines = append(lines, line)
	}
	return borderStyle.Render(strings.Join(lines, "\n"))
}
