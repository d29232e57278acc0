package approval_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/levercycle/internal/approval"
	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/chain/chaintest"
	"github.com/betbot/levercycle/internal/domain"
)

func newGateway(t *testing.T) (*chaintest.World, *approval.Gateway) {
	t.Helper()
	w := chaintest.NewWorld()
	tr, err := chain.NewTransactor(w.Chain, w.Key, chain.TransactorConfig{ChainID: w.Chain.ChainID})
	require.NoError(t, err)
	return w, approval.NewGateway(tr)
}

func TestEnsureAllowance_Approves(t *testing.T) {
	w, g := newGateway(t)
	weth := domain.Asset{Address: w.WETH, Symbol: "WETH", Decimals: 18}

	receipt, err := g.EnsureAllowance(context.Background(), weth, w.Pool, chaintest.Ether(2), w.User)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, chaintest.Ether(2), w.Chain.Allowance(w.WETH, w.User, w.Pool))
	assert.Equal(t, []string{"approve"}, w.Chain.Methods())
}

func TestEnsureAllowance_SkipsWhenCovered(t *testing.T) {
	w, g := newGateway(t)
	weth := domain.Asset{Address: w.WETH, Symbol: "WETH", Decimals: 18}

	_, err := g.EnsureAllowance(context.Background(), weth, w.Pool, chaintest.Ether(5), w.User)
	require.NoError(t, err)

	receipt, err := g.EnsureAllowance(context.Background(), weth, w.Pool, chaintest.Ether(3), w.User)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Len(t, w.Chain.Calls(), 1)
}

func TestEnsureAllowance_DeadlineWhileConfirming(t *testing.T) {
	w, g := newGateway(t)
	w.Chain.HoldReceipts = true
	weth := domain.Asset{Address: w.WETH, Symbol: "WETH", Decimals: 18}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := g.EnsureAllowance(ctx, weth, w.Pool, chaintest.Ether(2), w.User)
	require.Error(t, err)

	calls := w.Chain.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Reverted)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.KindConfirmationTimeout, de.Kind)
	assert.Equal(t, calls[0].Hash.Hex(), de.TxHash)
	assert.False(t, errors.Is(err, domain.ErrTransactionReverted))
}

func TestEnsureAllowance_InvalidInput(t *testing.T) {
	w, g := newGateway(t)
	weth := domain.Asset{Address: w.WETH}

	_, err := g.EnsureAllowance(context.Background(), weth, w.Pool, nil, w.User)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Empty(t, w.Chain.Calls())

	_, err = g.EnsureAllowance(context.Background(), weth, w.Pool, chaintest.Ether(1), w.Pool)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Empty(t, w.Chain.Calls())
}

func TestBalanceAndDescribe(t *testing.T) {
	w, g := newGateway(t)

	asset, err := g.Describe(context.Background(), w.WETH)
	require.NoError(t, err)
	assert.Equal(t, "WETH", asset.Symbol)
	assert.Equal(t, uint8(18), asset.Decimals)

	balance, err := g.Balance(context.Background(), asset, w.User)
	require.NoError(t, err)
	assert.Equal(t, chaintest.Ether(10), balance)
}
