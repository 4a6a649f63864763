package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/flightgraph/internal/graph"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	started := time.Date(2015, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, l.Begin(ctx, "run-1", started))
	require.NoError(t, l.RecordBatch(ctx, "run-1", "reasons", "builtin", 0, graph.Counters{NodesCreated: 5, Upserted: 5}))
	require.NoError(t, l.RecordBatch(ctx, "run-1", "flights", "jan.csv", 0, graph.Counters{Upserted: 998, Skipped: 2}))

	runs, err := l.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StateRunning, runs[0].State)
	assert.Nil(t, runs[0].FinishedAt)
	assert.True(t, started.Equal(runs[0].StartedAt))

	last, err := l.LastBatch(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "flights", last.Phase)
	assert.Equal(t, "jan.csv", last.Source)
	assert.Equal(t, 2, last.Counters.Skipped)

	totals := graph.Counters{NodesCreated: 5, Upserted: 1003, Skipped: 2}
	require.NoError(t, l.Finish(ctx, "run-1", "failed", totals, errors.New("phase flights: boom")))

	runs, err = l.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].State)
	assert.Equal(t, "phase flights: boom", runs[0].Error)
	assert.Equal(t, totals, runs[0].Totals)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Begin(ctx, id, time.Now()))
	}

	runs, err := l.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestRecordBatchTwiceKeepsLatest(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	require.NoError(t, l.Begin(ctx, "run", time.Now()))
	require.NoError(t, l.RecordBatch(ctx, "run", "carriers", "carriers.csv", 3, graph.Counters{Upserted: 1}))
	require.NoError(t, l.RecordBatch(ctx, "run", "carriers", "carriers.csv", 3, graph.Counters{Upserted: 7}))

	last, err := l.LastBatch(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, 7, last.Counters.Upserted)
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	_, err := l.LastBatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = l.Finish(ctx, "missing", "done", graph.Counters{}, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)
}
