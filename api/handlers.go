/*
handlers.go - HTTP API handlers for the performance engine

PURPOSE:
  Exposes the performance engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Employees:
    GET    /api/employees                                 List employees
    POST   /api/employees                                 Create employee

  Records:
    POST   /api/records                                   Assign targets
    GET    /api/records?period=&employee_id=&status=      List records
    GET    /api/records/{employeeID}/{period}             Get record
    GET    /api/records/{employeeID}/{period}/export      Export document
    GET    /api/records/{employeeID}/{period}/verify      Replay check
    POST   /api/records/{employeeID}/{period}/{action}    activate|complete|cancel|recompute
    PUT    /api/records/{employeeID}/{period}/targets/{kind}  Edit target

  Events:
    POST   /api/events                                    Apply achievement
    POST   /api/events/bulk                               Apply to many employees
    GET    /api/targets/{targetID}/achievements           Target history

  Policy:
    GET    /api/policy                                    Current settings
    PUT    /api/policy                                    Replace settings
    GET    /api/policy/versions                           All versions
    GET    /api/policy/versions/{version}                 One version

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record, target, employee or policy not found
  - 409: Duplicate event, existing record, status or version conflict
  - 422: Accepted shape but rejected by the ledger (negative total)
  - 500: Internal and storage errors

SECURITY NOTE:
  No authentication. The actor for policy changes is taken from the
  X-Actor header or the request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/warp/performance-engine/factory"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/performance"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers need beyond the engine: the employee
// directory and a way to wipe demo data.
type Store interface {
	performance.EmployeeStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *performance.Engine
	Store  Store

	// Templates are the named target sets from the policy file. May be nil.
	Templates *factory.Document

	MaxBodyBytes int64

	log      zerolog.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *performance.Engine, store Store, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:       engine,
		Store:        store,
		MaxBodyBytes: 1 << 20,
		log:          log.With().Str("component", "api").Logger(),
		validate:     validator.New(),
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates or updates an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}

	hireDate, _ := time.Parse(dateLayout, req.HireDate)
	emp := performance.Employee{
		ID:       generic.EntityID(req.ID),
		Name:     req.Name,
		Email:    req.Email,
		HireDate: hireDate,
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// CreateRecord assigns targets to an employee for a period.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := generic.ParsePeriod(req.Period)
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return
	}

	var defs []performance.TargetDefinition
	if req.Template != "" {
		if h.Templates == nil {
			writeError(w, http.StatusNotFound, "No target templates configured", nil)
			return
		}
		if defs, err = h.Templates.Template(req.Template); err != nil {
			writeError(w, http.StatusNotFound, "Unknown template", err)
			return
		}
	}
	for _, t := range req.Targets {
		def, err := t.definition()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid target", err)
			return
		}
		defs = append(defs, def)
	}

	rec, err := h.Engine.CreateRecord(r.Context(), generic.EntityID(req.EmployeeID), period, defs)
	if err != nil {
		writeDomainError(w, "Failed to create record", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// ListRecords returns records filtered by period, employee and status.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := performance.RecordFilter{
		Period:     q.Get("period"),
		EmployeeID: generic.EntityID(q.Get("employee_id")),
		Status:     performance.RecordStatus(q.Get("status")),
	}
	if filter.Period != "" {
		if _, err := generic.ParsePeriod(filter.Period); err != nil {
			writeDomainError(w, "Invalid period", err)
			return
		}
	}

	recs, err := h.Engine.ListRecords(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list records", err)
		return
	}
	dtos := make([]RecordDTO, len(recs))
	for i := range recs {
		dtos[i] = toRecordDTO(&recs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRecord returns one record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	employeeID, period, ok := recordParams(w, r)
	if !ok {
		return
	}
	rec, err := h.Engine.GetRecord(r.Context(), employeeID, period)
	if err != nil {
		writeDomainError(w, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// ExportRecord returns the export document payroll consumes.
func (h *Handler) ExportRecord(w http.ResponseWriter, r *http.Request) {
	employeeID, period, ok := recordParams(w, r)
	if !ok {
		return
	}
	rec, err := h.Engine.GetRecord(r.Context(), employeeID, period)
	if err != nil {
		writeDomainError(w, "Failed to export record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Export())
}

// VerifyRecord replays every target's ledger against its stored value.
func (h *Handler) VerifyRecord(w http.ResponseWriter, r *http.Request) {
	employeeID, period, ok := recordParams(w, r)
	if !ok {
		return
	}
	err := h.Engine.VerifyRecord(r.Context(), employeeID, period)
	var mismatch *generic.ReplayMismatchError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"consistent": true})
	case errors.As(err, &mismatch):
		h.log.Error().Err(err).Str("target_id", string(mismatch.TargetID)).Msg("replay mismatch")
		writeJSON(w, http.StatusOK, map[string]any{
			"consistent":   false,
			"target_id":    string(mismatch.TargetID),
			"materialised": mismatch.Materialised.Value.InexactFloat64(),
			"replayed":     mismatch.Replayed.Value.InexactFloat64(),
		})
	default:
		writeDomainError(w, "Failed to verify record", err)
	}
}

// RecordAction runs a lifecycle action or a recompute.
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	employeeID, period, ok := recordParams(w, r)
	if !ok {
		return
	}

	var op func(context.Context, generic.EntityID, generic.Period) (*performance.Record, error)
	switch action := chi.URLParam(r, "action"); action {
	case "activate":
		op = h.Engine.ActivateRecord
	case "complete":
		op = h.Engine.CompleteRecord
	case "cancel":
		op = h.Engine.CancelRecord
	case "recompute":
		op = h.Engine.RecomputeRecord
	default:
		writeError(w, http.StatusNotFound, "Unknown action", fmt.Errorf("%q", action))
		return
	}

	rec, err := op(r.Context(), employeeID, period)
	if err != nil {
		writeDomainError(w, "Failed to update record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// EditTarget changes one target's definition.
func (h *Handler) EditTarget(w http.ResponseWriter, r *http.Request) {
	employeeID, period, ok := recordParams(w, r)
	if !ok {
		return
	}
	var req EditTargetRequest
	if !h.decode(w, r, &req) {
		return
	}

	edit := performance.TargetEdit{
		Name:          req.Name,
		Description:   req.Description,
		TargetValue:   req.TargetValue,
		IncentiveBase: req.IncentiveBase,
	}
	if req.Deadline != nil {
		d, err := time.Parse(dateLayout, *req.Deadline)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid deadline", err)
			return
		}
		deadline := generic.TimePoint{Time: d}.EndOfDay()
		edit.Deadline = &deadline
	}

	kind := performance.Kind(chi.URLParam(r, "kind"))
	rec, err := h.Engine.EditTarget(r.Context(), employeeID, period, kind, edit)
	if err != nil {
		writeDomainError(w, "Failed to edit target", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ApplyEvent records one achievement.
func (h *Handler) ApplyEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := generic.ParsePeriod(req.Period)
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return
	}

	ev := performance.Event{
		ID:          generic.TransactionID(req.ID),
		EmployeeID:  generic.EntityID(req.EmployeeID),
		Period:      period,
		Kind:        performance.Kind(req.Kind),
		Value:       req.Value,
		Description: req.Description,
		Source:      generic.Source(req.Source),
		RecordedBy:  req.RecordedBy,
		Metadata:    req.Metadata,
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = *req.OccurredAt
	}

	rec, err := h.Engine.ApplyEvent(r.Context(), ev)
	if err != nil {
		writeDomainError(w, "Failed to apply event", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// ApplyBulk records one value for many employees.
func (h *Handler) ApplyBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := generic.ParsePeriod(req.Period)
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return
	}

	bulk := performance.BulkEvent{
		BatchID:     req.BatchID,
		Period:      period,
		Kind:        performance.Kind(req.Kind),
		Value:       req.Value,
		Description: req.Description,
		Source:      generic.Source(req.Source),
		RecordedBy:  req.RecordedBy,
	}
	for _, id := range req.EmployeeIDs {
		bulk.EmployeeIDs = append(bulk.EmployeeIDs, generic.EntityID(id))
	}

	batchID, results, err := h.Engine.ApplyBulk(r.Context(), bulk)
	if err != nil {
		writeDomainError(w, "Failed to apply bulk entry", err)
		return
	}

	resp := BulkResponse{BatchID: batchID, Results: make([]BulkResultDTO, 0, len(results))}
	for _, res := range results {
		dto := BulkResultDTO{EmployeeID: string(res.EmployeeID), EventID: string(res.EventID)}
		if res.Err != nil {
			dto.Error = res.Err.Error()
			resp.Failed++
		} else {
			rec := toRecordDTO(res.Record)
			dto.Applied = true
			dto.Record = &rec
			resp.Applied++
		}
		resp.Results = append(resp.Results, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAchievements returns a target's event history.
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	targetID := generic.TargetID(chi.URLParam(r, "targetID"))
	txs, err := h.Engine.ListAchievements(r.Context(), targetID)
	if err != nil {
		writeDomainError(w, "Failed to list achievements", err)
		return
	}
	dtos := make([]AchievementDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toAchievementDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// GetPolicy returns the settings in effect.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPolicyDTO(h.Engine.GetPolicy()))
}

// ReplacePolicy publishes a new settings version.
func (h *Handler) ReplacePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = req.UpdatedBy
	}

	published, err := h.Engine.ReplacePolicy(r.Context(), req.settings(), actor)
	if err != nil {
		writeDomainError(w, "Failed to replace policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(published))
}

// ListPolicyVersions returns every published version.
func (h *Handler) ListPolicyVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Engine.ListPolicies(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list policies", err)
		return
	}
	dtos := make([]PolicyDTO, len(versions))
	for i, s := range versions {
		dtos[i] = toPolicyDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPolicyVersion returns one historical version.
func (h *Handler) GetPolicyVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "Invalid version", err)
		return
	}
	s, err := h.Engine.GetPolicyVersion(r.Context(), version)
	if err != nil {
		writeDomainError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*s))
}

// =============================================================================
// HELPERS
// =============================================================================

func recordParams(w http.ResponseWriter, r *http.Request) (generic.EntityID, generic.Period, bool) {
	period, err := generic.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return "", generic.Period{}, false
	}
	return generic.EntityID(chi.URLParam(r, "employeeID")), period, true
}

// decode reads a size-limited JSON body into v and validates it. On failure
// the response is already written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps the engine's error taxonomy to HTTP.
func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, generic.ErrNegativeAccumulation),
		errors.Is(err, generic.ErrUnsupportedCalculationMethod):
		return http.StatusUnprocessableEntity
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
