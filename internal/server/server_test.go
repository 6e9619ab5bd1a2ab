package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/rackpatch/internal/identity"
	"github.com/raphaelgruber/rackpatch/internal/metrics"
	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/reconcile"
)

const roce = "ROCE T1: AS-T1/R.T1-T2"

func init() {
	gin.SetMode(gin.TestMode)
}

// stubBackend serves a fixed listing and echoes every status write.
type stubBackend struct {
	rows      []models.RawRow
	updateErr error
}

func (b *stubBackend) ListRuns(context.Context, int) ([]models.RawRow, error) { return b.rows, nil }

func (b *stubBackend) ListRunsView(context.Context) ([]models.RawRow, error) { return b.rows, nil }

func (b *stubBackend) LookupRun(context.Context, models.LookupQuery) (models.RawRow, error) {
	return nil, nil
}

func (b *stubBackend) ListProcesses(context.Context) ([]models.Process, error) {
	return []models.Process{{ID: 3, Description: roce}}, nil
}

func (b *stubBackend) ListProcessStatuses(context.Context, int64) ([]models.ProcessStatus, error) {
	labels := []string{"NOT STARTED", "DRESSING IN PROGRESS", "DRESSING DONE", "PATCHING IN PROGRESS", "PATCHING DONE", "QC DONE", "BLOCKED"}
	out := make([]models.ProcessStatus, len(labels))
	for i, l := range labels {
		out[i] = models.ProcessStatus{ID: int64(31 + i), Name: l}
	}
	return out, nil
}

func (b *stubBackend) UpdateRunStatus(_ context.Context, runID int64, upd models.StatusUpdate) (models.RawRow, error) {
	if b.updateErr != nil {
		return nil, b.updateErr
	}
	for _, row := range b.rows {
		if row["rack_process_run_id"] == int(runID) {
			echo := maps.Clone(row)
			delete(echo, "status_name")
			echo["status_id"] = upd.StatusID
			return echo, nil
		}
	}
	return nil, nil
}

func (b *stubBackend) UpsertRun(context.Context, models.UpsertRequest) (models.RawRow, error) {
	return nil, errors.New("upsert unavailable")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRows() []models.RawRow {
	return []models.RawRow{
		{"rack_process_run_id": 901, "su_key": "12", "rack_name": "LAC", "process_name": roce, "status_name": "DRESSING DONE", "note": "east row"},
		{"rack_process_run_id": 902, "su_key": "5", "rack_name": "LAW", "process_name": roce, "status_name": "BLOCKED"},
	}
}

type fixture struct {
	backend   *stubBackend
	engine    *reconcile.Engine
	options   *identity.OptionSet
	collector *metrics.Collector
	server    *Server
}

func newFixture(t *testing.T, bootstrap bool) *fixture {
	t.Helper()
	f := &fixture{
		backend:   &stubBackend{rows: sampleRows()},
		options:   identity.NewOptionSet(),
		collector: metrics.NewCollector(),
	}
	f.engine = reconcile.New(f.backend, reconcile.WithEnumerator(f.options), reconcile.WithLogger(testLogger()))
	if bootstrap {
		_, err := f.engine.Bootstrap(context.Background())
		require.NoError(t, err)
	}
	f.server = New(f.engine, Options{Collector: f.collector, Options: f.options}, testLogger())
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	body := decode[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "pending", body["state"])
}

func TestBootstrapState(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/bootstrap", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ready", body["state"])
	summary := body["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["applied"])
	assert.Equal(t, "runs", summary["source"])
}

func TestSync(t *testing.T) {
	t.Run("before bootstrap", func(t *testing.T) {
		f := newFixture(t, false)
		w := f.do(t, http.MethodPost, "/api/sync", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("after bootstrap", func(t *testing.T) {
		f := newFixture(t, true)
		f.backend.rows[0]["status_name"] = "QC DONE"

		w := f.do(t, http.MethodPost, "/api/sync", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 6, f.engine.GetCode("12", "LAC-SU12", roce))
	})
}

func TestGetProgress(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/progress?su=SU12&rack=lac-su12&process=ROCE+T1%3A+AS-T1%2FR.T1-T2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cell := decode[CellResponse](t, w)
	assert.Equal(t, models.NewKey("12", "LAC-SU12", roce), cell.Key)
	assert.Equal(t, 3, cell.Code)
	assert.Equal(t, "DRESSING DONE", cell.Label)
	assert.True(t, cell.Known)
	assert.True(t, cell.Editable)
	assert.False(t, cell.Pending)
	assert.Equal(t, "east row", cell.Note)

	w = f.do(t, http.MethodGet, "/api/progress?su=40&rack=LHP-SU40&process=UNKNOWN", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cell = decode[CellResponse](t, w)
	assert.False(t, cell.Known)
	assert.False(t, cell.Editable)
	assert.Equal(t, 1, cell.Code)

	w = f.do(t, http.MethodGet, "/api/progress?su=12", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyChange(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPost, "/api/progress", reconcile.Change{SiteUnit: "12", RackID: "LAC-SU12", Process: roce, Code: 5, Note: "patched"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[reconcile.ApplyResult](t, w)
	assert.True(t, res.Committed)
	assert.Equal(t, 5, res.Code)
	assert.Equal(t, int64(35), res.StatusID)
	assert.Equal(t, reconcile.StrategyDirect, res.Strategy)
	assert.Equal(t, 5, f.engine.GetCode("12", "LAC-SU12", roce))
}

func TestApplyChange_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      any
		updateErr error
		status    int
		stage     reconcile.Stage
		retryable bool
		code      int
	}{
		{
			name:   "malformed body",
			body:   "not an object",
			status: http.StatusBadRequest,
		},
		{
			name:   "missing fields",
			body:   reconcile.Change{SiteUnit: "12", Process: roce, Code: 5},
			status: http.StatusBadRequest,
			stage:  reconcile.StagePrecondition,
			code:   1,
		},
		{
			name:   "ineligible rack",
			body:   reconcile.Change{SiteUnit: "12", RackID: "GPU-SU12", Process: roce, Code: 5},
			status: http.StatusUnprocessableEntity,
			stage:  reconcile.StagePrecondition,
			code:   1,
		},
		{
			name:      "backend down",
			body:      reconcile.Change{SiteUnit: "12", RackID: "LAC-SU12", Process: roce, Code: 5},
			updateErr: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			status:    http.StatusBadGateway,
			stage:     reconcile.StageUpdate,
			retryable: true,
			code:      3,
		},
		{
			name:      "rejected payload",
			body:      reconcile.Change{SiteUnit: "12", RackID: "LAC-SU12", Process: roce, Code: 5},
			updateErr: errors.New("update run status: invalid payload"),
			status:    http.StatusInternalServerError,
			stage:     reconcile.StageUpdate,
			code:      3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.backend.updateErr = tt.updateErr

			w := f.do(t, http.MethodPost, "/api/progress", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			resp := decode[ErrorResponse](t, w)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.stage, resp.Stage)
			assert.Equal(t, tt.retryable, resp.Retryable)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestApplyChange_BeforeBootstrap(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/progress", reconcile.Change{SiteUnit: "12", RackID: "LAC-SU12", Process: roce, Code: 5})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTemplates(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	templates := decode[[]TemplateResponse](t, w)
	require.Len(t, templates, 13)

	first := templates[0]
	assert.Equal(t, roce, first.Process)
	assert.Equal(t, "T_A_1_7", first.Template)
	assert.Equal(t, 7, first.BlockedCode)
	assert.Equal(t, 6, first.CompletionCode)
	require.Len(t, first.Codes, 7)
	assert.Equal(t, TemplateEntry{Code: 5, Label: "PATCHING DONE"}, first.Codes[4])
}

func TestUnitRacks(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/api/units/SU5/racks?process=ROCE+T1%3A+AS-T1%2FR.T1-T2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	unit := decode[UnitResponse](t, w)
	assert.Equal(t, "5", unit.SiteUnit)
	assert.Equal(t, 7, unit.Status)
	require.Len(t, unit.Racks, 2)
	assert.Equal(t, "LAW-SU5", unit.Racks[0].ID)
	assert.Equal(t, 7, unit.Racks[0].Code)
	assert.Equal(t, "BLOCKED", unit.Racks[0].Label)
	assert.Equal(t, "GPU-SU5", unit.Racks[1].ID)
	assert.Zero(t, unit.Racks[1].Code, "ineligible racks carry no code")

	w = f.do(t, http.MethodGet, "/api/units/999/racks", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutOptions(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPut, "/api/units/LU9_ROW1_X/options", OptionsRequest{Options: []identity.Option{
		{Value: "Q1", Label: "Q1 • GPU"},
		{Value: "Q2", Label: "Q2 • GPU"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, f.options.Options("LU9_ROW1_X"), 2)

	w = f.do(t, http.MethodPut, "/api/units/LU9_ROW1_X/options", OptionsRequest{Options: []identity.Option{{Label: "no value"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.options.Options("LU9_ROW1_X"), 2)
}

func TestStats(t *testing.T) {
	f := newFixture(t, true)
	f.collector.RecordTiming(metrics.OpListRuns, 12*time.Millisecond)

	w := f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[StatsResponse](t, w)
	assert.Equal(t, reconcile.StateReady, stats.Engine.State)
	assert.Equal(t, 4, stats.Engine.ProgressKeys)
	require.Contains(t, stats.Backend.Operations, metrics.OpListRuns)
	assert.Equal(t, int64(1), stats.Backend.Operations[metrics.OpListRuns].Count)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rackpatch_bootstrap_rows_total")
}

func TestWatch_FiltersEvents(t *testing.T) {
	f := newFixture(t, true)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?su=12"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	events := make(chan models.Event, 64)
	go func() {
		defer close(events)
		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			events <- ev
		}
	}()

	// Sync until the subscription is live; bootstrap events are never filtered.
	require.Eventually(t, func() bool {
		if _, err := f.engine.Sync(context.Background()); err != nil {
			return false
		}
		select {
		case ev := <-events:
			return ev.Type == models.EventBootstrap
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.engine.ApplyStatusChange(context.Background(), reconcile.Change{SiteUnit: "5", RackID: "LAW-SU5", Process: roce, Code: 6})
	require.NoError(t, err)
	_, err = f.engine.ApplyStatusChange(context.Background(), reconcile.Change{SiteUnit: "12", RackID: "LAC-SU12", Process: roce, Code: 4})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "feed closed early")
			if ev.Type == models.EventBootstrap {
				continue
			}
			assert.Equal(t, "12", ev.Key.SiteUnit)
			assert.Equal(t, models.EventOptimistic, ev.Type)
			assert.Equal(t, 4, ev.Code)
			return
		case <-deadline:
			t.Fatal("no cell event received")
		}
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
