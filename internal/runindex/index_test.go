package runindex

import (
	"testing"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_LookupByRawKey(t *testing.T) {
	x := New()
	x.Put(models.NewKey("12", "LAC-SU12", "ROCE T1: AS-T1/R.T1-T2"), models.RunIdentity{RunID: 41, ProcessID: 3})

	run, ok := x.Get(models.ProgressKey{SiteUnit: "SU12", RackID: "lac-su12", Process: "ROCE T1:  AS-T1/R.T1-T2"})
	require.True(t, ok)
	assert.Equal(t, int64(41), run.RunID)
	assert.Equal(t, int64(3), run.ProcessID)
}

func TestIndex_IgnoresInvalidRuns(t *testing.T) {
	x := New()
	x.Put(models.NewKey("1", "LAC-SU1", "GPU AEC"), models.RunIdentity{})

	assert.Equal(t, 0, x.Len())
	_, ok := x.Get(models.NewKey("1", "LAC-SU1", "GPU AEC"))
	assert.False(t, ok)
}

func TestIndex_Scan(t *testing.T) {
	x := New()
	x.Put(models.NewKey("7", "LSN-SU7", "GPU AEC"), models.RunIdentity{RunID: 3})
	x.Put(models.NewKey("7", "LSL-SU7", "GPU AEC"), models.RunIdentity{RunID: 1})
	x.Put(models.NewKey("7", "LSL-SU7", "GPU CAT6"), models.RunIdentity{RunID: 2})
	x.Put(models.NewKey("8", "LSL-SU8", "GPU AEC"), models.RunIdentity{RunID: 4})

	entries := x.Scan("su7", "GPU AEC")
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Run.RunID)
	assert.Equal(t, int64(3), entries[1].Run.RunID)

	assert.Empty(t, x.Scan("9", "GPU AEC"))
	assert.Equal(t, 4, x.Len())
}
