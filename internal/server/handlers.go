package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/rackpatch/internal/identity"
	"github.com/raphaelgruber/rackpatch/internal/metrics"
	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/reconcile"
	"github.com/raphaelgruber/rackpatch/internal/topology"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BootstrapResponse describes the engine's bootstrap state.
type BootstrapResponse struct {
	State   reconcile.State            `json:"state"`
	Summary reconcile.BootstrapSummary `json:"summary"`
	Error   string                     `json:"error,omitempty"`
}

// ProgressQuery addresses one matrix cell.
type ProgressQuery struct {
	SiteUnit string `form:"su" validate:"required"`
	RackID   string `form:"rack" validate:"required"`
	Process  string `form:"process" validate:"required"`
}

// CellResponse is the state of one matrix cell.
type CellResponse struct {
	Key         models.ProgressKey `json:"key"`
	Code        int                `json:"code"`
	Label       string             `json:"label"`
	Known       bool               `json:"known"`
	Pending     bool               `json:"pending"`
	Editable    bool               `json:"editable"`
	Note        string             `json:"note,omitempty"`
	Responsible string             `json:"responsible,omitempty"`
}

// ErrorResponse is returned for failed requests. Write failures carry the
// stage and whether retrying may help; Code is the cell's value after
// rollback.
type ErrorResponse struct {
	Error     string          `json:"error"`
	Stage     reconcile.Stage `json:"stage,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
	Code      int             `json:"code,omitempty"`
}

// TemplateEntry is one code of a template.
type TemplateEntry struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// TemplateResponse describes the template bound to a process.
type TemplateResponse struct {
	Process        string          `json:"process"`
	Template       string          `json:"template"`
	Codes          []TemplateEntry `json:"codes"`
	BlockedCode    int             `json:"blocked_code"`
	CompletionCode int             `json:"completion_code"`
}

// RackResponse is one rack of a unit, with its code when a process is given.
type RackResponse struct {
	topology.Rack
	Code  int    `json:"code,omitempty"`
	Label string `json:"label,omitempty"`
}

// UnitResponse lists a unit's racks.
type UnitResponse struct {
	SiteUnit string         `json:"su_key"`
	Process  string         `json:"process,omitempty"`
	Status   int            `json:"status,omitempty"`
	Racks    []RackResponse `json:"racks"`
}

// OptionsRequest carries the rack selector the dashboard rendered for a unit.
type OptionsRequest struct {
	Options []identity.Option `json:"options" validate:"dive"`
}

// StatsResponse combines store sizes with backend call timings.
type StatsResponse struct {
	Engine  reconcile.Stats  `json:"engine"`
	Backend metrics.Snapshot `json:"backend"`
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": s.engine.State()})
}

func (s *Server) handleBootstrapState(c *gin.Context) {
	summary, err := s.engine.Summary()
	resp := BootstrapResponse{State: s.engine.State(), Summary: summary}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSync(c *gin.Context) {
	summary, err := s.engine.Sync(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		status := http.StatusBadGateway
		if errors.Is(err, reconcile.ErrNotBootstrapped) {
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Retryable: status == http.StatusBadGateway})
		return
	}
	c.JSON(http.StatusOK, BootstrapResponse{State: s.engine.State(), Summary: summary})
}

func (s *Server) handleGetProgress(c *gin.Context) {
	var q ProgressQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query"})
		return
	}
	if err := s.validate.Struct(q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "su, rack and process are required"})
		return
	}
	c.JSON(http.StatusOK, s.cell(c.Request.Context(), q.SiteUnit, q.RackID, q.Process))
}

func (s *Server) handleApplyChange(c *gin.Context) {
	var change reconcile.Change
	if err := c.ShouldBindJSON(&change); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	res, err := s.engine.ApplyStatusChange(c.Request.Context(), change)
	if err != nil {
		_ = c.Error(err)
		resp := ErrorResponse{
			Error: err.Error(),
			Code:  s.engine.GetCode(change.SiteUnit, change.RackID, change.Process),
		}
		var we *reconcile.WriteError
		if errors.As(err, &we) {
			resp.Stage, resp.Retryable = we.Stage, we.Retryable()
		}
		c.JSON(writeStatus(err), resp)
		return
	}
	c.JSON(http.StatusOK, res)
}

// writeStatus maps a write failure onto an HTTP status.
func writeStatus(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, reconcile.ErrNotBootstrapped):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrBootstrapFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, reconcile.ErrUnknownProcess),
		errors.Is(err, reconcile.ErrIneligibleRack),
		errors.Is(err, reconcile.ErrUntranslatableStatus),
		errors.Is(err, reconcile.ErrIdentityUnresolved):
		return http.StatusUnprocessableEntity
	}
	var we *reconcile.WriteError
	if errors.As(err, &we) && we.Stage == reconcile.StagePrecondition {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleTemplates(c *gin.Context) {
	reg := s.engine.Registry()
	out := make([]TemplateResponse, 0, len(reg.Processes()))
	for _, p := range reg.Processes() {
		tmpl, ok := reg.Template(p)
		if !ok {
			continue
		}
		resp := TemplateResponse{
			Process:        p,
			Template:       tmpl.Name(),
			BlockedCode:    tmpl.BlockedCode(),
			CompletionCode: tmpl.CompletionCode(),
		}
		for _, e := range tmpl.Entries() {
			resp.Codes = append(resp.Codes, TemplateEntry{Code: e.Code, Label: e.Label})
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleUnitRacks(c *gin.Context) {
	unit := models.CanonicalSiteUnit(c.Param("su"))
	racks, ok := s.engine.Topology().Racks(unit)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown site-unit " + c.Param("su")})
		return
	}

	process := c.Query("process")
	resp := UnitResponse{SiteUnit: unit, Process: process, Racks: make([]RackResponse, 0, len(racks))}
	for _, rk := range racks {
		r := RackResponse{Rack: rk}
		if process != "" && rk.Eligible(process) {
			r.Code = s.engine.GetCode(unit, rk.ID, process)
			r.Label = s.engine.Label(unit, rk.ID, process)
		}
		resp.Racks = append(resp.Racks, r)
	}
	if process != "" {
		resp.Status, _ = s.engine.UnitStatus(unit, process)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePutOptions(c *gin.Context) {
	var req OptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "every option needs a value"})
		return
	}
	unit := models.CanonicalSiteUnit(c.Param("su"))
	s.options.Set(unit, req.Options)
	c.JSON(http.StatusOK, gin.H{"su_key": unit, "options": len(req.Options)})
}

func (s *Server) handleStats(c *gin.Context) {
	resp := StatsResponse{Engine: s.engine.Stats()}
	if s.collector != nil {
		resp.Backend = s.collector.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// cell reads one matrix cell with its side values.
func (s *Server) cell(ctx context.Context, unit, rack, process string) CellResponse {
	code, known := s.engine.Lookup(unit, rack, process)
	_, editable := s.engine.Registry().Template(process)
	resp := CellResponse{
		Key:      models.NewKey(unit, rack, process),
		Code:     s.engine.GetCode(unit, rack, process),
		Label:    s.engine.Label(unit, rack, process),
		Known:    known,
		Pending:  s.engine.Pending(unit, rack, process),
		Editable: editable,
	}
	if known {
		resp.Code = code
	}
	var err error
	if resp.Note, err = s.engine.Note(ctx, unit, rack, process); err != nil {
		s.logger.Warn("note unavailable", "su", unit, "rack", rack, "error", err)
	}
	if resp.Responsible, err = s.engine.Responsible(ctx, unit, rack, process); err != nil {
		s.logger.Warn("responsible unavailable", "su", unit, "rack", rack, "error", err)
	}
	return resp
}
