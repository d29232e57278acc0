package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/levercycle/internal/domain"
	"github.com/betbot/levercycle/internal/workflow"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_FailedRun(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	report := &workflow.Report{
		RunID:     uuid.NewString(),
		Account:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		State:     workflow.StateStart,
		StartedAt: start,
	}
	require.NoError(t, j.StartRun(ctx, report))
	require.NoError(t, j.RecordStep(ctx, report.RunID, workflow.StepRecord{
		Step:     workflow.StepDeposit,
		From:     workflow.StateStart,
		To:       workflow.StateDeposited,
		TxHashes: []string{"0x01", "0x02"},
		At:       start.Add(time.Second),
	}))

	report.State = workflow.StateFailed
	report.LastState = workflow.StateDeposited
	report.FailedStep = workflow.StepBorrow
	report.ErrorKind = domain.KindOracleUnavailable
	report.Error = "oracle.getLatestPrice: OracleUnavailable"
	report.FinishedAt = start.Add(2 * time.Second)
	require.NoError(t, j.FinishRun(ctx, report))

	run, err := j.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "Failed", run.State)
	assert.Equal(t, "Deposited", run.LastState)
	assert.Equal(t, "borrow", run.FailedStep)
	assert.Equal(t, "OracleUnavailable", run.ErrorKind)
	assert.True(t, run.StartedAt.Equal(start))
	require.NotNil(t, run.FinishedAt)

	require.Len(t, run.Steps, 1)
	assert.Equal(t, "deposit", run.Steps[0].Step)
	assert.Equal(t, []string{"0x01", "0x02"}, run.Steps[0].TxHashes)
}

func TestJournal_ListRuns(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		r := &workflow.Report{RunID: uuid.NewString(), State: workflow.StateStart, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, j.StartRun(ctx, r))
		ids = append(ids, r.RunID)
	}

	runs, err := j.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Nil(t, runs[0].FinishedAt)
}

func TestJournal_MissingRun(t *testing.T) {
	j := openTemp(t)
	run, err := j.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}
