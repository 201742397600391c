package health

import (
	"errors"
	"testing"
	"time"

	"github.com/ChuLiYu/simclock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUpdateJobStatus tests per phase error accounting
func TestUpdateJobStatus(t *testing.T) {
	r := NewRegistry()
	r.Initialize([]string{"b", "a"})

	require.NoError(t, r.UpdateJobStatus("a", types.JobExecuteResult{
		SimulationTime: 100,
		ExecuteErr:     errors.New("first"),
		Runtime:        2 * time.Millisecond,
	}))
	require.NoError(t, r.UpdateJobStatus("a", types.JobExecuteResult{
		SimulationTime: 200,
		ExecuteErr:     errors.New("second"),
		DataOutErr:     errors.New("publish"),
		Runtime:        4 * time.Millisecond,
	}))
	require.NoError(t, r.UpdateJobStatus("a", types.JobExecuteResult{SimulationTime: 300}))

	h, err := r.JobHealth("a")
	require.NoError(t, err)
	assert.Equal(t, types.Timestamp(300), h.SimulationTime)
	assert.Equal(t, uint64(0), h.DataIn.ErrorCount)
	assert.Equal(t, uint64(2), h.Execute.ErrorCount)
	assert.Equal(t, "second", h.Execute.LastError)
	assert.Equal(t, types.Timestamp(200), h.Execute.SimulationTime)
	assert.Equal(t, uint64(1), h.DataOut.ErrorCount)

	assert.Equal(t, int64(3), h.Runtime.Count)
	assert.InDelta(t, float64(4*time.Millisecond), float64(h.Runtime.Max), float64(10*time.Microsecond))
}

// TestUpdateUnknownJob tests NotFound for untracked jobs
func TestUpdateUnknownJob(t *testing.T) {
	r := NewRegistry()
	err := r.UpdateJobStatus("nope", types.JobExecuteResult{})
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = r.JobHealth("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// TestGetHealthSorted tests ordering and reset
func TestGetHealthSorted(t *testing.T) {
	r := NewRegistry()
	r.Initialize([]string{"c", "a", "b"})
	require.NoError(t, r.UpdateJobStatus("b", types.JobExecuteResult{DataInErr: errors.New("x")}))

	all := r.GetHealth()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].JobName, all[1].JobName, all[2].JobName})
	assert.Equal(t, uint64(1), all[1].DataIn.ErrorCount)

	r.ResetHealth()
	all = r.GetHealth()
	require.Len(t, all, 3)
	assert.Equal(t, uint64(0), all[1].DataIn.ErrorCount)
	assert.Equal(t, int64(0), all[1].Runtime.Count)

	r.Deinitialize()
	assert.Empty(t, r.GetHealth())
}
