package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/progress"
	"github.com/raphaelgruber/rackpatch/internal/sidestore"
)

// Change is one operator edit of a matrix cell.
type Change struct {
	SiteUnit    string `json:"su_key" validate:"required"`
	RackID      string `json:"rack_id" validate:"required"`
	Process     string `json:"process" validate:"required"`
	Code        int    `json:"code" validate:"gt=0"`
	Note        string `json:"note,omitempty"`
	Responsible string `json:"responsible,omitempty"`
	// ClearNote and ClearResponsible remove the cell's stored side value.
	ClearNote        bool `json:"clear_note,omitempty" validate:"excluded_with=Note"`
	ClearResponsible bool `json:"clear_responsible,omitempty" validate:"excluded_with=Responsible"`
}

// ApplyResult describes a completed status change.
type ApplyResult struct {
	Key models.ProgressKey `json:"key"`
	// Code is the cell's visible code after the echo was applied.
	Code     int                `json:"code"`
	Label    string             `json:"label"`
	Run      models.RunIdentity `json:"run"`
	StatusID int64              `json:"status_id"`
	Strategy string             `json:"strategy"`
	// Committed is false when a newer edit of the cell was issued while
	// this one was in flight; the newer edit owns the visible value.
	Committed bool `json:"committed"`
}

var changeValidate = validator.New()

// ApplyStatusChange writes a new code for a cell: the value is shown
// optimistically, the cell's run is resolved and updated (or upserted),
// and the backend's echo becomes the visible value. Any failure rolls the
// cell back to its last known-good value and returns a *WriteError.
func (e *Engine) ApplyStatusChange(ctx context.Context, c Change) (*ApplyResult, error) {
	start := time.Now()
	res, err := e.applyStatusChange(ctx, c)

	result := "committed"
	switch {
	case err != nil:
		result = "failed"
		var we *WriteError
		if errors.As(err, &we) {
			writeFailures.WithLabelValues(string(we.Stage)).Inc()
		}
	case !res.Committed:
		result = "stale"
	}
	writesTotal.WithLabelValues(result).Inc()
	writeDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return res, err
}

func (e *Engine) applyStatusChange(ctx context.Context, c Change) (*ApplyResult, error) {
	process := c.Process
	if name, ok := e.registry.Resolve(process); ok {
		process = name
	}
	key := models.NewKey(c.SiteUnit, c.RackID, process)
	fail := func(stage Stage, err error) (*ApplyResult, error) {
		return nil, &WriteError{Key: key, Stage: stage, Err: err}
	}

	if err := changeValidate.Struct(c); err != nil {
		return fail(StagePrecondition, fmt.Errorf("invalid change: %w", err))
	}
	if err := e.awaitReady(ctx); err != nil {
		return fail(StagePrecondition, err)
	}
	tmpl, ok := e.registry.Template(process)
	if !ok {
		return fail(StagePrecondition, fmt.Errorf("%w: %q", ErrUnknownProcess, c.Process))
	}
	if _, ok := tmpl.Label(c.Code); !ok {
		return fail(StagePrecondition, fmt.Errorf("%w: %q has no code %d", ErrUntranslatableStatus, process, c.Code))
	}
	if rk, known := e.topo.Rack(key.SiteUnit, c.RackID); known && !rk.Eligible(process) {
		return fail(StagePrecondition, fmt.Errorf("%w: %s (%s) does not run %q", ErrIneligibleRack, rk.ID, rk.Type, process))
	}

	edit := e.progress.Begin(key, c.Code)
	e.publish(e.cellEvent(models.EventOptimistic, key, c.Code))
	side := e.stageSide(ctx, key, c)

	wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()

	res, err := e.write(wctx, c, process, edit)
	if err != nil {
		var we *WriteError
		if !errors.As(err, &we) {
			we = &WriteError{Key: key, Stage: StageUpdate, Err: err}
		}
		if isContextError(we.Err) && !errors.Is(we.Err, ErrNetwork) {
			we.Err = networkError(we.Err)
		}
		if e.progress.Rollback(edit) {
			e.restoreSide(context.WithoutCancel(ctx), key, side)
			restored, _ := e.progress.Get(key)
			ev := e.cellEvent(models.EventRollback, key, restored)
			ev.Error = we.Error()
			e.publish(ev)
		}
		e.logger.Warn("status change rolled back",
			"su", key.SiteUnit, "rack", key.RackID, "process", process,
			"code", c.Code, "stage", we.Stage, "error", we.Err)
		return nil, we
	}
	return res, nil
}

// sideEdit is a side value written by an edit and the value it replaced.
type sideEdit struct {
	kind sidestore.Kind
	prev string
}

// stageSide writes the side values c sets or clears before the backend
// confirms the edit. Values whose previous state could not be read are
// written but not returned, so a rollback leaves them alone.
func (e *Engine) stageSide(ctx context.Context, key models.ProgressKey, c Change) []sideEdit {
	changes := []struct {
		kind  sidestore.Kind
		value string
		clear bool
	}{
		{sidestore.KindNote, c.Note, c.ClearNote},
		{sidestore.KindResponsible, c.Responsible, c.ClearResponsible},
	}

	var staged []sideEdit
	for _, ch := range changes {
		if ch.value == "" && !ch.clear {
			continue
		}
		prev, err := e.side.Get(ctx, ch.kind, key)
		if err != nil {
			e.logger.Warn("side value not read",
				"kind", ch.kind, "su", key.SiteUnit, "rack", key.RackID, "process", key.Process, "error", err)
		} else {
			staged = append(staged, sideEdit{kind: ch.kind, prev: prev})
		}
		e.setSide(ctx, ch.kind, key, ch.value)
	}
	return staged
}

// restoreSide puts back the side values a failed edit replaced.
func (e *Engine) restoreSide(ctx context.Context, key models.ProgressKey, staged []sideEdit) {
	for _, s := range staged {
		e.setSide(ctx, s.kind, key, s.prev)
	}
}

// write resolves the cell's run, sends the update and applies the echo.
func (e *Engine) write(ctx context.Context, c Change, process string, edit progress.Edit) (*ApplyResult, error) {
	key := edit.Key
	l := &Lookup{Key: key, RackID: c.RackID, Process: process, engine: e}

	run, strategy, err := e.resolve(ctx, l)
	switch {
	case err == nil:
	case errors.Is(err, ErrIdentityUnresolved):
		return e.upsert(ctx, c, process, edit)
	default:
		return nil, &WriteError{Key: key, Stage: StageResolve, Err: backendError(err)}
	}

	processID := run.ProcessID
	if processID <= 0 {
		processID = e.translator.ProcessID(process, 0)
	}
	statusID, err := e.translator.CodeToStatusID(process, c.Code, processID)
	if err != nil {
		return nil, &WriteError{Key: key, Stage: StageTranslate, Err: fmt.Errorf("%w: %w", ErrUntranslatableStatus, err)}
	}

	echo, err := e.backend.UpdateRunStatus(ctx, run.RunID, models.StatusUpdate{
		RunID:       run.RunID,
		StatusID:    statusID,
		Note:        c.Note,
		Responsible: c.Responsible,
	})
	if err != nil {
		return nil, &WriteError{Key: key, Stage: StageUpdate, Err: backendError(err)}
	}

	res := e.settle(ctx, edit, process, echo)
	res.StatusID, res.Strategy = statusID, strategy
	if !res.Run.Valid() {
		res.Run = run
	}
	e.index.Put(key, res.Run)
	return res, nil
}

// upsert asks the backend to create the cell's run. It is the last step
// of the cascade and needs a numbered site-unit.
func (e *Engine) upsert(ctx context.Context, c Change, process string, edit progress.Edit) (*ApplyResult, error) {
	key := edit.Key
	unresolved := func(err error) error {
		return &WriteError{Key: key, Stage: StageUpsert, Err: fmt.Errorf("%w: %w", ErrIdentityUnresolved, err)}
	}

	su, err := strconv.ParseInt(key.SiteUnit, 10, 64)
	if err != nil || su <= 0 {
		return nil, unresolved(fmt.Errorf("site-unit %q cannot be created remotely", key.SiteUnit))
	}

	processID := e.translator.ProcessID(process, 0)
	statusID, err := e.translator.CodeToStatusID(process, c.Code, processID)
	if err != nil {
		return nil, &WriteError{Key: key, Stage: StageTranslate, Err: fmt.Errorf("%w: %w", ErrUntranslatableStatus, err)}
	}

	req := models.UpsertRequest{
		SiteUnit: su,
		RackName: models.RackNameForBackend(c.RackID),
		StatusID: statusID,
		Note:     c.Note,
	}
	if processID > 0 {
		req.ProcessID = processID
	} else {
		req.ProcessName = process
	}

	echo, err := e.backend.UpsertRun(ctx, req)
	if err != nil {
		return nil, unresolved(backendError(err))
	}

	res := e.settle(ctx, edit, process, echo)
	res.StatusID, res.Strategy = statusID, StrategyUpsert
	if !res.Run.Valid() {
		return nil, unresolved(errors.New("backend did not return the created run"))
	}
	cascadeHits.WithLabelValues(StrategyUpsert).Inc()
	e.index.Put(key, res.Run)
	return res, nil
}

// settle applies the backend's echo. The edited cell takes the echoed code
// only if the edit is still the latest for it; a stale echo advances the
// known-good baseline and the run index only.
func (e *Engine) settle(ctx context.Context, edit progress.Edit, process string, echo models.RawRow) *ApplyResult {
	key := edit.Key
	code := edit.Code
	var run models.RunIdentity

	eff, err := e.interpret(echo)
	if err == nil {
		run = eff.Row.Run()
		if eff.Row.StatusLabel != "" || eff.Row.StatusID > 0 {
			code = e.translator.RowCode(process, eff.Row)
		}
	} else if echo != nil {
		e.logger.Warn("echoed row not usable, keeping requested code",
			"su", key.SiteUnit, "rack", key.RackID, "process", process, "error", err)
	}

	committed := e.progress.Commit(edit, code)
	if err == nil {
		eff.Code = code
		touched := e.applyEffect(ctx, eff, key, committed)
		for _, k := range touched {
			e.publish(e.cellEvent(models.EventConfirmed, k, code))
		}
	}

	visible, _ := e.progress.Get(key)
	if committed {
		e.publish(e.cellEvent(models.EventConfirmed, key, visible))
	}

	res := &ApplyResult{Key: key, Code: visible, Run: run, Committed: committed}
	if tmpl, ok := e.registry.Template(process); ok {
		res.Label, _ = tmpl.Label(visible)
	}
	return res
}
