package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/rackpatch/internal/client"
	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/translate"
)

func TestBootstrap_AppliesRowsAndSkipsMalformed(t *testing.T) {
	b := &fakeBackend{runs: sampleRows()}
	e := newEngine(t, b)
	assert.Equal(t, StatePending, e.State())

	var phases []string
	summary, err := e.Bootstrap(context.Background(), WithProgress(func(p BootstrapProgress) {
		phases = append(phases, p.Phase)
	}))
	require.NoError(t, err)

	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, SourceRuns, summary.Source)
	assert.Equal(t, 4, summary.Rows)
	assert.Equal(t, 3, summary.Applied)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 6, summary.Keys)
	assert.Equal(t, 6, summary.Runs)
	assert.True(t, summary.CatalogLoaded)
	assert.Equal(t, 2, summary.CatalogProcesses)
	assert.Equal(t, 14, summary.CatalogStatuses)
	assert.Contains(t, phases, PhaseCatalog)
	assert.Contains(t, phases, PhaseApply)

	select {
	case <-e.Done():
	default:
		t.Fatal("Done not closed after bootstrap")
	}
}

func TestBootstrap_EveryValidRowPopulatesBothStores(t *testing.T) {
	e := bootstrapped(t, &fakeBackend{runs: sampleRows()})
	ctx := context.Background()

	tests := []struct {
		name    string
		unit    string
		rack    string
		process string
		code    int
		runID   int64
	}{
		{"rack outside topology", "12", "LAC-SU12", roce, 3, 901},
		{"bare backend name", "12", "LAC", roce, 3, 901},
		{"master rack", "5", "LAW-SU5", roce, 7, 902},
		{"gpu slot by status id", "7", "GPU-SU7", gpuAEC, 5, 903},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := e.Lookup(tt.unit, tt.rack, tt.process)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)

			run, strategy, err := e.ResolveRunIdentity(ctx, tt.unit, tt.rack, tt.process)
			require.NoError(t, err)
			assert.Equal(t, tt.runID, run.RunID)
			assert.Equal(t, StrategyDirect, strategy)
		})
	}

	_, ok := e.Lookup("12", "LCF-SU12", roce)
	assert.False(t, ok, "row without run id must not populate the store")

	note, err := e.Note(ctx, "5", "LAW-SU5", roce)
	require.NoError(t, err)
	assert.Equal(t, "cable short", note)
}

func TestBootstrap_RawKeyLookup(t *testing.T) {
	e := bootstrapped(t, &fakeBackend{runs: sampleRows()})

	code, ok := e.Lookup("SU12", "lac-su12", "roce t1:  as-t1/r.t1-t2")
	require.True(t, ok)
	assert.Equal(t, 3, code)

	run, strategy, err := e.ResolveRunIdentity(context.Background(), "su 12", " lac-su12 ", "roce t1: as-t1/r.t1-t2")
	require.NoError(t, err)
	assert.Equal(t, int64(901), run.RunID)
	assert.Equal(t, StrategyDirect, strategy)
}

func TestBootstrap_FallsBackToView(t *testing.T) {
	e := newEngine(t, &fakeBackend{runsErr: errDown, view: sampleRows()})

	summary, err := e.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceView, summary.Source)
	assert.Equal(t, 3, e.GetCode("12", "LAC-SU12", roce))
}

func TestBootstrap_BothListingsFail(t *testing.T) {
	e := newEngine(t, &fakeBackend{runsErr: errDown, viewErr: errDown})

	_, err := e.Bootstrap(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBootstrapFailed)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, StateFailed, e.State())

	_, err = e.ApplyStatusChange(context.Background(), Change{SiteUnit: "12", RackID: "LAC-SU12", Process: roce, Code: 5})
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, StagePrecondition, we.Stage)
	assert.ErrorIs(t, err, ErrBootstrapFailed)
}

func TestBootstrap_RetryAfterFailure(t *testing.T) {
	b := &fakeBackend{runsErr: errDown, viewErr: errDown}
	e := newEngine(t, b)
	_, err := e.Bootstrap(context.Background())
	require.Error(t, err)

	b.runsErr, b.runs = nil, sampleRows()
	_, err = e.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, 3, e.GetCode("12", "LAC-SU12", roce))
}

func TestBootstrap_CatalogFailureIsNotFatal(t *testing.T) {
	b := &fakeBackend{runs: sampleRows(), procsErr: errDown}
	e := newEngine(t, b)

	summary, err := e.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.CatalogLoaded)
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, 3, e.GetCode("12", "LAC-SU12", roce), "labelled rows still translate")
	assert.Equal(t, translate.DefaultCode, e.GetCode("7", "GPU-SU7", gpuAEC), "status ids need the catalog")

	_, err = e.ApplyStatusChange(context.Background(), Change{SiteUnit: "12", RackID: "LAC-SU12", Process: roce, Code: 5})
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, StageTranslate, we.Stage)
	assert.ErrorIs(t, err, ErrUntranslatableStatus)
	assert.Equal(t, 3, e.GetCode("12", "LAC-SU12", roce))
	assert.Zero(t, b.updateCount())

	b.procsErr = nil
	summary, err = e.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.CatalogLoaded)
	assert.Equal(t, 5, e.GetCode("7", "GPU-SU7", gpuAEC))
}

func TestApplyStatusChange_BeforeBootstrap(t *testing.T) {
	e := newEngine(t, &fakeBackend{runs: sampleRows()})

	_, err := e.ApplyStatusChange(context.Background(), Change{SiteUnit: "12", RackID: "LAC-SU12", Process: roce, Code: 5})
	assert.ErrorIs(t, err, ErrNotBootstrapped)

	_, err = e.Sync(context.Background())
	assert.ErrorIs(t, err, ErrNotBootstrapped)
}

func TestSync_RefreshesValues(t *testing.T) {
	b := &fakeBackend{runs: sampleRows()}
	e := bootstrapped(t, b)

	b.mu.Lock()
	b.runs = sampleRows()
	b.runs[0]["status_name"] = "PATCHING IN PROGRESS"
	b.mu.Unlock()

	summary, err := e.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.CatalogLoaded)
	assert.Equal(t, 4, e.GetCode("12", "LAC-SU12", roce))
	assert.Equal(t, StateReady, e.State())
}

func TestSync_FailureKeepsData(t *testing.T) {
	b := &fakeBackend{runs: sampleRows()}
	e := bootstrapped(t, b)

	b.runsErr, b.viewErr = errDown, errDown
	_, err := e.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, 3, e.GetCode("12", "LAC-SU12", roce))
}

func TestGetCode_DefaultsAndLabels(t *testing.T) {
	e := bootstrapped(t, &fakeBackend{runs: sampleRows()})

	assert.Equal(t, translate.DefaultCode, e.GetCode("40", "LHP-SU40", roce))
	assert.Equal(t, "DRESSING DONE", e.Label("12", "LAC-SU12", roce))
	assert.Equal(t, "NOT STARTED", e.Label("40", "LHP-SU40", roce))
	assert.Empty(t, e.Label("12", "LAC-SU12", "UNKNOWN PROCESS"))
	assert.False(t, e.Pending("12", "LAC-SU12", roce))
}

func TestUnitStatus(t *testing.T) {
	b := &fakeBackend{runs: append(sampleRows(),
		models.RawRow{"rack_process_run_id": 904, "su_key": "12", "rack_name": "LCF", "process_name": roce, "status_name": "QC DONE"},
		models.RawRow{"rack_process_run_id": 905, "su_key": "LU9_ROW1_X", "rack_name": "Q1", "process_name": roce, "status_name": "DRESSING DONE"},
		models.RawRow{"rack_process_run_id": 906, "su_key": "LU9_ROW1_X", "rack_name": "Q2", "process_name": roce, "status_name": "PATCHING DONE"},
	)}
	e := bootstrapped(t, b)

	tests := []struct {
		name    string
		unit    string
		process string
		code    int
		ok      bool
	}{
		{"blocked wins", "5", roce, 7, true},
		{"highest eligible rack", "12", roce, 6, true},
		{"untouched unit", "40", roce, 1, true},
		{"unit outside topology", "LU9_ROW1_X", roce, 5, true},
		{"no keys for unknown unit", "LU9_ROW2_X", roce, 0, false},
		{"unknown process", "12", "NOPE", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := e.UnitStatus(tt.unit, tt.process)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestStats(t *testing.T) {
	e := bootstrapped(t, &fakeBackend{runs: sampleRows()})

	st := e.Stats()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 6, st.ProgressKeys)
	assert.Equal(t, 6, st.IndexKeys)
	assert.Equal(t, 2, st.CatalogProcesses)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"ready"`)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestSubscribe(t *testing.T) {
	e := newEngine(t, &fakeBackend{runs: sampleRows()})
	events, cancel := e.Subscribe(4)

	_, err := e.Bootstrap(context.Background())
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, models.EventBootstrap, ev.Type)
		assert.Empty(t, ev.Error)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no bootstrap event")
	}

	cancel()
	_, open := <-events
	assert.False(t, open, "cancel closes the channel")
	cancel()
}

func TestSubscribe_DropsWhenFull(t *testing.T) {
	e := newEngine(t, &fakeBackend{runs: sampleRows()})
	events, cancel := e.Subscribe(1)
	defer cancel()

	_, err := e.Bootstrap(context.Background())
	require.NoError(t, err)
	_, err = e.Sync(context.Background())
	require.NoError(t, err)

	assert.Len(t, events, 1)
}

func TestWriteError(t *testing.T) {
	key := models.NewKey("12", "LAC-SU12", roce)

	netErr := &WriteError{Key: key, Stage: StageUpdate, Err: networkError(errDown)}
	assert.True(t, netErr.Retryable())
	assert.ErrorIs(t, netErr, errDown)
	assert.Contains(t, netErr.Error(), "su=12 rack=LAC-SU12")
	assert.Contains(t, netErr.Error(), "failed at update")

	pre := &WriteError{Key: key, Stage: StagePrecondition, Err: ErrIneligibleRack}
	assert.False(t, pre.Retryable())

	timeout := networkError(context.DeadlineExceeded)
	assert.True(t, errors.Is(timeout, context.DeadlineExceeded))
	assert.True(t, errors.Is(timeout, ErrNetwork))
	assert.Nil(t, networkError(nil))
}

func TestBackendError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		network bool
	}{
		{"dial failure", errDown, true},
		{"url error", fmt.Errorf("execute request: %w", &url.Error{Op: "Post", URL: "http://backend/api/runs/status", Err: errDown}), true},
		{"backend status", &client.APIError{StatusCode: 502, Status: "502 Bad Gateway"}, true},
		{"truncated body", fmt.Errorf("read response: %w", io.ErrUnexpectedEOF), true},
		{"deadline", context.DeadlineExceeded, true},
		{"validation", errors.New("upsert run: invalid payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := backendError(tt.err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.network, errors.Is(err, ErrNetwork))
		})
	}
	assert.Nil(t, backendError(nil))
}
