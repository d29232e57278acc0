package metrics

import "expvar"

// 运行计数
var (
	RunsStarted = expvar.NewInt("levercycle_runs_started")
	RunsSettled = expvar.NewInt("levercycle_runs_settled")
	RunsFailed  = expvar.NewInt("levercycle_runs_failed")
)

// 交易计数
var (
	TxSubmitted      = expvar.NewInt("levercycle_tx_submitted")
	TxConfirmed      = expvar.NewInt("levercycle_tx_confirmed")
	TxReverted       = expvar.NewInt("levercycle_tx_reverted")
	ApprovalsSkipped = expvar.NewInt("levercycle_approvals_skipped")
	RepayIterations  = expvar.NewInt("levercycle_repay_iterations")
)

// LastState 最近一次运行到达的状态
var LastState = expvar.NewString("levercycle_last_state")
