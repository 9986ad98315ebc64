package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/decom/pipeline"
	"github.com/yairfalse/decom/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndList(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2024, 3, 7, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := &pipeline.RunResult{
			StartTime: base.Add(time.Duration(i) * time.Hour),
			Outcomes: []types.OutcomeRecord{
				{InstanceID: "i-1", Stage: types.StageTerminated, ImageID: "ami-1"},
			},
			TerminatedCount: 1,
		}
		require.NoError(t, store.Append(run))
	}

	runs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// Most recent first
	assert.Equal(t, base.Add(2*time.Hour), runs[0].StartTime)
	assert.Equal(t, base, runs[2].StartTime)
	assert.Equal(t, "ami-1", runs[0].Outcomes[0].ImageID)
}

func TestListLimit(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2024, 3, 7, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(&pipeline.RunResult{
			StartTime: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, base.Add(4*time.Minute), runs[0].StartTime)
}

func TestListEmpty(t *testing.T) {
	store := openTestStore(t)

	runs, err := store.List(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
