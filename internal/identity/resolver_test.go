package identity

import (
	"testing"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gpuTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.Parse([]byte(`
processes_by_type:
  GPU: ["GPU AEC", "GPU CAT6"]
  "ROCE T1": ["ROCE T1: AS-T1/R.T1-T2"]
site_units:
  - key: "7"
    racks:
      - {id: LSL-SU7, name: LSL, type: GPU}
      - {id: LSM-SU7, name: LSM, type: GPU}
      - {id: LSN-SU7, name: LSN, type: GPU}
      - {id: LBG-SU7, name: LBG, type: "ROCE T1", aliases: [LXX]}
`))
	require.NoError(t, err)
	return topo
}

func TestResolve_TypeOnlyRowMatchesEverySlot(t *testing.T) {
	r := New(gpuTopology(t), nil, nil)

	res := r.Resolve("SU7", models.Row{RackName: "GPU", RackType: "GPU"})

	assert.Equal(t, MatchType, res.Strategy)
	assert.Equal(t, []string{"LSL-SU7", "LSM-SU7", "LSN-SU7"}, res.Matched)
	assert.Contains(t, res.Candidates(), "GPU")
}

func TestResolve_TypeInferredFromIdentifier(t *testing.T) {
	r := New(gpuTopology(t), nil, nil)

	res := r.Resolve("7", models.Row{RackName: "gpu"})

	assert.Equal(t, MatchType, res.Strategy)
	assert.Len(t, res.Matched, 3)
}

func TestResolve_Order(t *testing.T) {
	r := New(gpuTopology(t), nil, nil)

	tests := []struct {
		name     string
		row      models.Row
		strategy string
		matched  []string
	}{
		{"exact id", models.Row{RackID: "lsm-su7", RackType: "GPU"}, MatchExact, []string{"LSM-SU7"}},
		{"exact name", models.Row{RackName: "LBG"}, MatchExact, []string{"LBG-SU7"}},
		{"alias", models.Row{RackName: "LXX"}, MatchAlias, []string{"LBG-SU7"}},
		{"literal only", models.Row{RackName: "QQQ"}, MatchLiteral, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve("7", tt.row)
			assert.Equal(t, tt.strategy, res.Strategy)
			assert.Equal(t, tt.matched, res.Matched)
		})
	}
}

func TestResolve_LiteralBaseline(t *testing.T) {
	r := New(topology.Default(), nil, nil)

	res := r.Resolve("12", models.Row{RackName: "LAC"})

	assert.Equal(t, MatchLiteral, res.Strategy)
	assert.Equal(t, []string{"LAC", "LAC-SU12"}, res.Candidates())
}

func TestResolve_EnumerationFallback(t *testing.T) {
	opts := NewOptionSet()
	opts.Set("SU96", []Option{
		{Value: "LSL-SU96", Label: "LSL"},
		{Value: "LSM-SU96", Label: "LSM • GPU"},
	})
	topo, err := topology.Parse([]byte(`site_units: [{key: "1", master: LAC}]`))
	require.NoError(t, err)
	r := New(topo, opts, nil)

	t.Run("filtered by type", func(t *testing.T) {
		res := r.Resolve("96", models.Row{RackName: "GPU", RackType: "GPU"})
		assert.Equal(t, MatchEnumeration, res.Strategy)
		assert.Equal(t, []string{"LSM-SU96"}, res.Matched)
	})

	t.Run("unfiltered when nothing matches", func(t *testing.T) {
		res := r.Resolve("96", models.Row{RackName: "AEC", RackType: "AEC"})
		assert.Equal(t, MatchEnumeration, res.Strategy)
		assert.Equal(t, []string{"LSL-SU96", "LSM-SU96"}, res.Matched)
	})

	t.Run("no options published", func(t *testing.T) {
		res := r.Resolve("95", models.Row{RackName: "GPU"})
		assert.Equal(t, MatchLiteral, res.Strategy)
		assert.Empty(t, res.Matched)
	})
}

func TestSiteUnits(t *testing.T) {
	r := New(topology.Default(), nil, nil)

	tests := []struct {
		name string
		row  models.Row
		want []string
	}{
		{"numbered", models.Row{SiteUnit: "SU12", RackName: "LAC"}, []string{"12"}},
		{"cell key from lu and row", models.Row{LU: "2", RackRow: "12", RackType: "ROCE T2", RackName: "NA24"}, []string{"LU2_ROW12_ROCE_T2_RAIL1"}},
		{"unknown cell key kept", models.Row{LU: "42", RackRow: "1", RackType: "GPU", RackName: "X"}, []string{"LU42_ROW1_GPU"}},
		{"cell by rack name", models.Row{RackName: "NB29"}, []string{"LU1_ROW13_SIS_T1"}},
		{"no unit", models.Row{RackName: "ZZZ"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.SiteUnits(tt.row))
		})
	}
}

func TestOptionSet(t *testing.T) {
	s := NewOptionSet()
	s.Set("su 3", []Option{{Value: "A"}})

	assert.Equal(t, []Option{{Value: "A"}}, s.Options("3"))
	assert.Empty(t, s.Options("4"))

	got := s.Options("SU3")
	got[0].Value = "mutated"
	assert.Equal(t, "A", s.Options("3")[0].Value)
}
