package oracle_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/levercycle/internal/chain"
	"github.com/betbot/levercycle/internal/chain/chaintest"
	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/oracle"
)

func setup(t *testing.T, maxAge time.Duration) (*chaintest.World, *oracle.Client, *time.Time) {
	t.Helper()
	w := chaintest.NewWorld()
	now := time.Now()
	w.Chain.Now = func() time.Time { return now }
	w.Chain.SetFeedUpdatedAt(w.Feed, now.Add(-time.Minute))

	tr, err := chain.NewTransactor(w.Chain, w.Key, chain.TransactorConfig{ChainID: w.Chain.ChainID})
	require.NoError(t, err)
	c := oracle.NewClient(tr, map[string]common.Address{"DAI/ETH": w.Feed}, maxAge,
		oracle.WithClock(func() time.Time { return now }))
	return w, c, &now
}

func TestGetLatestPrice(t *testing.T) {
	_, c, _ := setup(t, time.Hour)

	q, err := c.GetLatestPrice(context.Background(), "DAI/ETH")
	require.NoError(t, err)
	assert.Equal(t, "DAI/ETH", q.Pair)
	assert.Equal(t, big.NewInt(500_000_000_000_000), q.Answer)
	assert.Equal(t, uint8(18), q.Decimals)
	assert.Equal(t, int64(42), q.RoundID.Int64())
}

func TestGetLatestPrice_StaleRound(t *testing.T) {
	w, c, now := setup(t, time.Hour)
	w.Chain.SetFeedUpdatedAt(w.Feed, now.Add(-2*time.Hour))

	_, err := c.GetLatestPrice(context.Background(), "DAI/ETH")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOracleUnavailable))
}

func TestGetLatestPrice_FutureTimestamp(t *testing.T) {
	w, c, now := setup(t, time.Hour)
	w.Chain.SetFeedUpdatedAt(w.Feed, now.Add(10*time.Minute))

	_, err := c.GetLatestPrice(context.Background(), "DAI/ETH")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOracleUnavailable))

	w.Chain.SetFeedUpdatedAt(w.Feed, now.Add(10*time.Second))
	_, err = c.GetLatestPrice(context.Background(), "DAI/ETH")
	assert.NoError(t, err)
}

func TestGetLatestPrice_IncompleteRound(t *testing.T) {
	w, c, _ := setup(t, time.Hour)
	w.Chain.Feed(w.Feed).AnsweredInRound = big.NewInt(41)

	_, err := c.GetLatestPrice(context.Background(), "DAI/ETH")
	assert.True(t, errors.Is(err, domain.ErrOracleUnavailable))
}

func TestGetLatestPrice_NonPositiveAnswer(t *testing.T) {
	w, c, _ := setup(t, time.Hour)
	w.Chain.Feed(w.Feed).Answer = big.NewInt(0)

	_, err := c.GetLatestPrice(context.Background(), "DAI/ETH")
	assert.True(t, errors.Is(err, domain.ErrOracleUnavailable))
}

func TestGetLatestPrice_Unreachable(t *testing.T) {
	w, c, _ := setup(t, time.Hour)
	w.Chain.FailCalls[w.Feed] = errors.New("connection refused")

	_, err := c.GetLatestPrice(context.Background(), "DAI/ETH")
	require.Error(t, err)
	assert.Equal(t, domain.KindOracleUnavailable, domain.KindOf(err))
}

func TestGetLatestPrice_UnknownPair(t *testing.T) {
	_, c, _ := setup(t, time.Hour)
	_, err := c.GetLatestPrice(context.Background(), "BTC/ETH")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
