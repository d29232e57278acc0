package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/chain/chaintest"
	"github.com/betbot/levercycle/internal/domain"
)

func newTransactor(t *testing.T, w *chaintest.World, cfg chain.TransactorConfig) *chain.Transactor {
	t.Helper()
	cfg.ChainID = w.Chain.ChainID
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	tr, err := chain.NewTransactor(w.Chain, w.Key, cfg)
	require.NoError(t, err)
	return tr
}

func TestTransactor_SendConfirmed(t *testing.T) {
	w := chaintest.NewWorld()
	tr := newTransactor(t, w, chain.TransactorConfig{})

	data, err := chain.ERC20.Pack("approve", w.Pool, chaintest.Ether(1))
	require.NoError(t, err)

	receipt, err := tr.Send(context.Background(), w.WETH, nil, data)
	require.NoError(t, err)
	assert.NotEqual(t, "", receipt.Hex())
	assert.Equal(t, uint64(1), receipt.Confirmations)
	assert.Equal(t, chaintest.Ether(1), w.Chain.Allowance(w.WETH, w.User, w.Pool))
	assert.Equal(t, []string{"approve"}, w.Chain.Methods())
}

func TestTransactor_EstimateRevertIsNotSubmitted(t *testing.T) {
	w := chaintest.NewWorld()
	tr := newTransactor(t, w, chain.TransactorConfig{})

	data, err := chain.LendingPool.Pack("deposit", w.WETH, chaintest.Ether(1), w.User, uint16(0))
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), w.Pool, nil, data)
	require.Error(t, err)

	re, ok := chain.AsRevert(err)
	require.True(t, ok)
	assert.Equal(t, "ERC20: transfer amount exceeds allowance", re.Reason)
	assert.False(t, re.Mined())
	assert.Empty(t, w.Chain.Calls(), "reverting call must not be submitted")

	classified := chain.Classify("lending.deposit", err)
	assert.True(t, errors.Is(classified, domain.ErrAllowanceInsufficient))
}

func TestTransactor_MinedRevertReplaysReason(t *testing.T) {
	w := chaintest.NewWorld()
	w.Chain.SkipEstimateRevert = true
	tr := newTransactor(t, w, chain.TransactorConfig{})

	data, err := chain.LendingPool.Pack("borrow", w.DAI, chaintest.Ether(1), big.NewInt(1), uint16(0), w.User)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), w.Pool, nil, data)
	re, ok := chain.AsRevert(err)
	require.True(t, ok)
	assert.True(t, re.Mined())
	assert.Equal(t, "9", re.Reason)

	calls := w.Chain.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Reverted)

	classified := chain.Classify("lending.borrow", err, chain.ReasonIs(domain.KindBorrowCapacityExceeded, "9", "10", "11"))
	assert.True(t, errors.Is(classified, domain.ErrBorrowCapacityExceeded))
	var de *domain.Error
	require.True(t, errors.As(classified, &de))
	assert.Equal(t, re.TxHash.Hex(), de.TxHash)
}

func TestTransactor_ConfirmationTimeout(t *testing.T) {
	w := chaintest.NewWorld()
	w.Chain.HoldReceipts = true
	tr := newTransactor(t, w, chain.TransactorConfig{ConfirmTimeout: 20 * time.Millisecond})

	data, err := chain.ERC20.Pack("approve", w.Pool, chaintest.Ether(1))
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), w.WETH, nil, data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfirmationTimeout))
	assert.Equal(t, domain.KindConfirmationTimeout, domain.KindOf(err))
	// 交易已经发出，不会重发
	assert.Len(t, w.Chain.Calls(), 1)
}

func TestTransactor_CancelledWhileWaiting(t *testing.T) {
	w := chaintest.NewWorld()
	w.Chain.HoldReceipts = true
	tr := newTransactor(t, w, chain.TransactorConfig{ConfirmTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Chain.OnSend = func(chaintest.Call) { cancel() }

	data, err := chain.ERC20.Pack("approve", w.Pool, chaintest.Ether(1))
	require.NoError(t, err)

	_, err = tr.Send(ctx, w.WETH, nil, data)
	require.Error(t, err)
	assert.Equal(t, domain.KindConfirmationTimeout, domain.KindOf(err))
	assert.True(t, errors.Is(err, context.Canceled))

	calls := w.Chain.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Reverted)

	// 分类后仍是 ConfirmationTimeout，并保留交易哈希
	classified := chain.Classify("approval.ensureAllowance", err)
	var de *domain.Error
	require.True(t, errors.As(classified, &de))
	assert.Equal(t, domain.KindConfirmationTimeout, de.Kind)
	assert.Equal(t, calls[0].Hash.Hex(), de.TxHash)
}

func TestTransactor_WaitsForConfirmationDepth(t *testing.T) {
	w := chaintest.NewWorld()
	tr := newTransactor(t, w, chain.TransactorConfig{Confirmations: 3, ConfirmTimeout: 2 * time.Second})

	data, err := chain.ERC20.Pack("approve", w.Pool, chaintest.Ether(1))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Chain.Mine(2)
	}()

	receipt, err := tr.Send(context.Background(), w.WETH, nil, data)
	require.NoError(t, err)
	head, err := w.Chain.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, head-receipt.BlockNumber+1, uint64(3))
}

func TestNewTransactor_Validation(t *testing.T) {
	w := chaintest.NewWorld()
	_, err := chain.NewTransactor(nil, w.Key, chain.TransactorConfig{ChainID: big.NewInt(1)})
	assert.Error(t, err)
	_, err = chain.NewTransactor(w.Chain, nil, chain.TransactorConfig{ChainID: big.NewInt(1)})
	assert.Error(t, err)
	_, err = chain.NewTransactor(w.Chain, w.Key, chain.TransactorConfig{})
	assert.Error(t, err)
}
