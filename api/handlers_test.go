/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Record creation, events and the error status mapping
- Idempotent event submission over HTTP
- Policy replacement and versions
- Bulk entry, export and verification
- Demo scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/performance-engine/factory"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/logging"
	"github.com/warp/performance-engine/performance"
	"github.com/warp/performance-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router  http.Handler
	handler *Handler
	store   *memory.Store
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	engine := performance.NewEngine(store, incentive.NewHolder(incentive.DefaultSettings()), logging.Nop())
	engine.Clock = func() time.Time { return time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC) }
	_, err := engine.LoadPolicy(ctx, incentive.DefaultSettings())
	require.NoError(t, err)

	h := NewHandler(engine, store, logging.Nop())
	ts := testServer{router: NewRouter(h, RouterOptions{}), handler: h, store: store}
	ts.do(t, http.MethodPost, "/api/employees", map[string]any{
		"id": "emp-1", "name": "Alice Martin", "email": "alice@example.com", "hire_date": "2023-01-09",
	}, http.StatusCreated, nil)
	return ts
}

// do sends body as JSON, asserts the status and decodes the response into out.
func (ts testServer) do(t *testing.T, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	require.Equal(t, wantStatus, rec.Code, "body: %s", rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

func (ts testServer) createLeadRecord(t *testing.T) RecordDTO {
	t.Helper()
	var rec RecordDTO
	ts.do(t, http.MethodPost, "/api/records", map[string]any{
		"employee_id": "emp-1",
		"period":      "2025-03",
		"targets": []map[string]any{
			{"kind": "lead_generation", "target_value": 50, "incentive_base": 15000},
			{"kind": "business_value", "target_value": 0, "incentive_base": 5000},
		},
	}, http.StatusCreated, &rec)
	return rec
}

func leadEvent(id string, value float64) map[string]any {
	return map[string]any{
		"id":          id,
		"employee_id": "emp-1",
		"period":      "2025-03",
		"kind":        "lead_generation",
		"value":       value,
		"source":      "integration",
	}
}

// =============================================================================
// RECORDS AND EVENTS
// =============================================================================

func TestCreateRecordAndApplyEvents(t *testing.T) {
	// GIVEN: A lead target of 50 for 15000
	// WHEN: Posting +20 and +22
	// THEN: The record shows 84% and 12600

	ts := newTestServer(t)
	created := ts.createLeadRecord(t)
	require.Len(t, created.Targets, 1, "zero targets are skipped")
	assert.Equal(t, "draft", created.Status)
	assert.Equal(t, "count", created.Targets[0].Unit)

	ts.do(t, http.MethodPost, "/api/events", leadEvent("crm-1", 20), http.StatusOK, nil)
	var rec RecordDTO
	ts.do(t, http.MethodPost, "/api/events", leadEvent("crm-2", 22), http.StatusOK, &rec)

	require.Len(t, rec.Targets, 1)
	assert.Equal(t, 42.0, rec.Targets[0].AchievedValue)
	assert.Equal(t, 84.0, rec.Targets[0].AchievementPercent)
	assert.Equal(t, 12600.0, rec.Targets[0].IncentiveEarned)
	assert.Equal(t, "in_progress", rec.Targets[0].Status)
	assert.Equal(t, 12600.0, rec.TotalIncentive)

	var fetched RecordDTO
	ts.do(t, http.MethodGet, "/api/records/emp-1/2025-03", nil, http.StatusOK, &fetched)
	assert.Equal(t, rec.Version, fetched.Version)

	var history []AchievementDTO
	ts.do(t, http.MethodGet, "/api/targets/"+rec.Targets[0].ID+"/achievements", nil, http.StatusOK, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "crm-1", history[0].ID)
	assert.Equal(t, "integration", history[0].Source)
}

func TestApplyEvent_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	ts.createLeadRecord(t)
	ts.do(t, http.MethodPost, "/api/events", leadEvent("crm-1", 3), http.StatusOK, nil)

	var errResp ErrorResponse
	ts.do(t, http.MethodPost, "/api/events", leadEvent("crm-1", 3), http.StatusConflict, &errResp)
	assert.Contains(t, errResp.Details, "duplicate event")

	ts.do(t, http.MethodPost, "/api/events", leadEvent("crm-2", -5), http.StatusUnprocessableEntity, nil)

	unknown := leadEvent("crm-3", 1)
	unknown["kind"] = "group_filling"
	ts.do(t, http.MethodPost, "/api/events", unknown, http.StatusNotFound, nil)

	noRecord := leadEvent("crm-4", 1)
	noRecord["period"] = "2025-04"
	ts.do(t, http.MethodPost, "/api/events", noRecord, http.StatusNotFound, nil)

	zero := leadEvent("crm-5", 0)
	ts.do(t, http.MethodPost, "/api/events", zero, http.StatusBadRequest, nil)
}

func TestDecode_Validation(t *testing.T) {
	ts := newTestServer(t)

	var errResp ErrorResponse
	ts.do(t, http.MethodPost, "/api/records", map[string]any{
		"employee_id": "emp-1",
		"period":      "March",
	}, http.StatusBadRequest, &errResp)
	assert.Equal(t, "Validation failed", errResp.Error)
	assert.Equal(t, "datetime", errResp.Fields["Period"])
	assert.Equal(t, "required_without", errResp.Fields["Targets"])

	ts.do(t, http.MethodPost, "/api/events", `{"employee_id":"emp-1","surprise":true}`, http.StatusBadRequest, &errResp)
	assert.Equal(t, "Invalid request body", errResp.Error)

	ts.do(t, http.MethodPost, "/api/records", map[string]any{
		"employee_id": "emp-404",
		"period":      "2025-03",
		"targets":     []map[string]any{{"kind": "lead_generation", "target_value": 5, "incentive_base": 100}},
	}, http.StatusNotFound, nil)

	ts.do(t, http.MethodGet, "/api/records/emp-1/2025-13", nil, http.StatusBadRequest, nil)
}

func TestCreateRecord_FromTemplate(t *testing.T) {
	ts := newTestServer(t)
	doc, err := factory.NewPolicyFactory().ParseYAML([]byte(`
templates:
  - name: sales
    targets:
      - kind: lead_generation
        target_value: 50
        incentive_base: 15000
      - kind: collection_amount
        target_value: 40000
        incentive_base: 12000
`))
	require.NoError(t, err)
	ts.handler.Templates = doc

	var rec RecordDTO
	ts.do(t, http.MethodPost, "/api/records", map[string]any{
		"employee_id": "emp-1", "period": "2025-03", "template": "sales",
	}, http.StatusCreated, &rec)
	require.Len(t, rec.Targets, 2)
	assert.Equal(t, "amount", rec.Targets[1].Unit)

	ts.do(t, http.MethodPost, "/api/records", map[string]any{
		"employee_id": "emp-1", "period": "2025-04", "template": "finance",
	}, http.StatusNotFound, nil)

	ts.do(t, http.MethodPost, "/api/records", map[string]any{
		"employee_id": "emp-1", "period": "2025-03", "template": "sales",
	}, http.StatusConflict, nil)
}

// =============================================================================
// LIFECYCLE AND EDITS
// =============================================================================

func TestRecordActions(t *testing.T) {
	ts := newTestServer(t)
	ts.createLeadRecord(t)

	var rec RecordDTO
	ts.do(t, http.MethodPost, "/api/records/emp-1/2025-03/activate", nil, http.StatusOK, &rec)
	assert.Equal(t, "active", rec.Status)

	ts.do(t, http.MethodPost, "/api/records/emp-1/2025-03/activate", nil, http.StatusConflict, nil)
	ts.do(t, http.MethodPost, "/api/records/emp-1/2025-03/archive", nil, http.StatusNotFound, nil)

	ts.do(t, http.MethodPut, "/api/records/emp-1/2025-03/targets/lead_generation",
		map[string]any{"target_value": 40, "name": "Qualified leads"}, http.StatusOK, &rec)
	assert.Equal(t, 40.0, rec.Targets[0].TargetValue)
	assert.Equal(t, "Qualified leads", rec.Targets[0].Name)

	ts.do(t, http.MethodPut, "/api/records/emp-1/2025-03/targets/lead_generation",
		map[string]any{"target_value": -1}, http.StatusBadRequest, nil)

	ts.do(t, http.MethodPost, "/api/records/emp-1/2025-03/complete", nil, http.StatusOK, &rec)
	assert.Equal(t, "completed", rec.Status)

	ts.do(t, http.MethodPost, "/api/events", leadEvent("late-1", 1), http.StatusNotFound, nil)

	var list []RecordDTO
	ts.do(t, http.MethodGet, "/api/records?status=completed", nil, http.StatusOK, &list)
	assert.Len(t, list, 1)
	ts.do(t, http.MethodGet, "/api/records?period=2025-04", nil, http.StatusOK, &list)
	assert.Empty(t, list)
}

func TestEditTarget_Deadline(t *testing.T) {
	// GIVEN: A draft lead record
	// WHEN: Moving the deadline, then sending an impossible date
	// THEN: The first lands at end of day, the second is a 400 that changes nothing

	ts := newTestServer(t)
	ts.createLeadRecord(t)

	var rec RecordDTO
	ts.do(t, http.MethodPut, "/api/records/emp-1/2025-03/targets/lead_generation",
		map[string]any{"deadline": "2025-03-20"}, http.StatusOK, &rec)
	assert.Equal(t, "2025-03-20T23:59:59Z", rec.Targets[0].Deadline)

	ts.do(t, http.MethodPut, "/api/records/emp-1/2025-03/targets/lead_generation",
		map[string]any{"deadline": "2025-02-30"}, http.StatusBadRequest, nil)

	ts.do(t, http.MethodGet, "/api/records/emp-1/2025-03", nil, http.StatusOK, &rec)
	assert.Equal(t, "2025-03-20T23:59:59Z", rec.Targets[0].Deadline)
}

// =============================================================================
// POLICY
// =============================================================================

func TestPolicy_ReplaceAndVersions(t *testing.T) {
	// GIVEN: A collection record at 37.5% under the default policy
	// WHEN: Penalties are enabled and the record recomputed
	// THEN: The record carries -1500 under version 2

	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/records", map[string]any{
		"employee_id": "emp-1",
		"period":      "2025-03",
		"targets":     []map[string]any{{"kind": "collection_amount", "target_value": 40, "incentive_base": 12000}},
	}, http.StatusCreated, nil)
	ts.do(t, http.MethodPost, "/api/events", map[string]any{
		"employee_id": "emp-1", "period": "2025-03", "kind": "collection_amount", "value": "15",
	}, http.StatusOK, nil)

	body, err := json.Marshal(map[string]any{
		"min_performance_threshold": 50,
		"calculation_method":        "linear",
		"penalty_enabled":           true,
		"max_penalty_percent":       25,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/policy", bytes.NewReader(body))
	req.Header.Set("X-Actor", "hr-admin")
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var policy PolicyDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &policy))
	assert.Equal(t, 2, policy.Version)
	assert.Equal(t, "hr-admin", policy.UpdatedBy)

	ts.do(t, http.MethodGet, "/api/policy", nil, http.StatusOK, &policy)
	assert.True(t, policy.PenaltyEnabled)

	var rec RecordDTO
	ts.do(t, http.MethodPost, "/api/records/emp-1/2025-03/recompute", nil, http.StatusOK, &rec)
	assert.Equal(t, -1500.0, rec.TotalIncentive)
	assert.Equal(t, 2, rec.Targets[0].PolicyVersion)

	var versions []PolicyDTO
	ts.do(t, http.MethodGet, "/api/policy/versions", nil, http.StatusOK, &versions)
	assert.Len(t, versions, 2)

	ts.do(t, http.MethodGet, "/api/policy/versions/1", nil, http.StatusOK, &policy)
	assert.False(t, policy.PenaltyEnabled)
	ts.do(t, http.MethodGet, "/api/policy/versions/7", nil, http.StatusNotFound, nil)
	ts.do(t, http.MethodGet, "/api/policy/versions/x", nil, http.StatusBadRequest, nil)

	ts.do(t, http.MethodPut, "/api/policy", map[string]any{"calculation_method": "tiered"}, http.StatusUnprocessableEntity, nil)
	ts.do(t, http.MethodPut, "/api/policy", map[string]any{"calculation_method": "threshold"}, http.StatusUnprocessableEntity, nil)
	ts.do(t, http.MethodPut, "/api/policy", map[string]any{"calculation_method": "linear", "min_performance_threshold": -1}, http.StatusBadRequest, nil)
}

func TestPolicy_OmittedThresholdKeepsDefault(t *testing.T) {
	// GIVEN: A collection record at 37.5%
	// WHEN: Enabling penalties without sending a threshold
	// THEN: The threshold stays at 50 and the shortfall is charged

	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/records", map[string]any{
		"employee_id": "emp-1",
		"period":      "2025-03",
		"targets":     []map[string]any{{"kind": "collection_amount", "target_value": 40, "incentive_base": 12000}},
	}, http.StatusCreated, nil)
	ts.do(t, http.MethodPost, "/api/events", map[string]any{
		"employee_id": "emp-1", "period": "2025-03", "kind": "collection_amount", "value": "15",
	}, http.StatusOK, nil)

	var policy PolicyDTO
	ts.do(t, http.MethodPut, "/api/policy", map[string]any{
		"calculation_method":  "linear",
		"penalty_enabled":     true,
		"max_penalty_percent": 25,
	}, http.StatusOK, &policy)
	assert.Equal(t, 50.0, policy.MinPerformanceThreshold)

	var rec RecordDTO
	ts.do(t, http.MethodPost, "/api/records/emp-1/2025-03/recompute", nil, http.StatusOK, &rec)
	assert.Equal(t, -1500.0, rec.TotalIncentive)

	ts.do(t, http.MethodPut, "/api/policy", map[string]any{
		"calculation_method":        "linear",
		"min_performance_threshold": 0,
	}, http.StatusOK, &policy)
	assert.Equal(t, 0.0, policy.MinPerformanceThreshold)
}

// =============================================================================
// BULK, EXPORT, VERIFY
// =============================================================================

func TestBulkExportVerify(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.SaveEmployee(context.Background(), performance.Employee{ID: "emp-2", Name: "Bob"}))
	for _, emp := range []string{"emp-1", "emp-2"} {
		ts.do(t, http.MethodPost, "/api/records", map[string]any{
			"employee_id": emp,
			"period":      "2025-03",
			"targets":     []map[string]any{{"kind": "group_filling", "target_value": 100, "incentive_base": 2000}},
		}, http.StatusCreated, nil)
	}

	var bulk BulkResponse
	ts.do(t, http.MethodPost, "/api/events/bulk", map[string]any{
		"batch_id": "week-11", "period": "2025-03", "kind": "group_filling", "value": 75,
		"employee_ids": []string{"emp-1", "emp-2", "emp-3"},
	}, http.StatusOK, &bulk)
	assert.Equal(t, "week-11", bulk.BatchID)
	assert.Equal(t, 2, bulk.Applied)
	assert.Equal(t, 1, bulk.Failed)
	assert.Equal(t, "week-11:emp-1", bulk.Results[0].EventID)
	assert.False(t, bulk.Results[2].Applied)

	var report performance.Report
	ts.do(t, http.MethodGet, "/api/records/emp-2/2025-03/export", nil, http.StatusOK, &report)
	assert.Equal(t, "2025-03", report.Period)
	require.Len(t, report.Targets, 1)
	assert.Equal(t, 75.0, report.Targets[0].AchievedValue)
	assert.Equal(t, 1500.0, report.TotalIncentive)

	var verify map[string]any
	ts.do(t, http.MethodGet, "/api/records/emp-2/2025-03/verify", nil, http.StatusOK, &verify)
	assert.Equal(t, true, verify["consistent"])
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios(t *testing.T) {
	tests := []struct {
		id         string
		employee   string
		total      float64
		status     string
		percentage float64
	}{
		{"lead-generation", "emp-alice", 12600, "in_progress", 84},
		{"penalty", "emp-bob", -1500, "in_progress", 37.5},
		{"over-achievement", "emp-carol", 10000, "achieved", 125},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			store := memory.New()
			engine := performance.NewEngine(store, incentive.NewHolder(incentive.DefaultSettings()), logging.Nop())
			h := NewHandler(engine, store, logging.Nop())
			router := NewRouter(h, RouterOptions{})
			ts := testServer{router: router, handler: h, store: store}

			var rec RecordDTO
			ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": tt.id}, http.StatusOK, &rec)

			assert.Equal(t, tt.employee, rec.EmployeeID)
			assert.Equal(t, "active", rec.Status)
			assert.Equal(t, tt.total, rec.TotalIncentive)
			require.Len(t, rec.Targets, 1)
			assert.Equal(t, tt.percentage, rec.Targets[0].AchievementPercent)
			assert.Equal(t, tt.status, rec.Targets[0].Status)

			var current ScenarioDTO
			ts.do(t, http.MethodGet, "/api/scenarios/current", nil, http.StatusOK, &current)
			assert.Equal(t, tt.id, current.ID)
		})
	}
}

func TestScenarios_UseEngineClock(t *testing.T) {
	store := memory.New()
	engine := performance.NewEngine(store, incentive.NewHolder(incentive.DefaultSettings()), logging.Nop())
	engine.Clock = func() time.Time { return time.Date(2024, time.November, 5, 9, 0, 0, 0, time.UTC) }
	h := NewHandler(engine, store, logging.Nop())
	ts := testServer{router: NewRouter(h, RouterOptions{}), handler: h, store: store}

	var rec RecordDTO
	ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "lead-generation"}, http.StatusOK, &rec)
	assert.Equal(t, "2024-11", rec.Period)
	assert.Equal(t, "2024-11-30T23:59:59Z", rec.Targets[0].Deadline)
}

func TestScenarios_ListAndUnknown(t *testing.T) {
	ts := newTestServer(t)

	var list []ScenarioDTO
	ts.do(t, http.MethodGet, "/api/scenarios", nil, http.StatusOK, &list)
	assert.Len(t, list, 3)

	ts.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"}, http.StatusNotFound, nil)

	_, err := ts.handler.Seed(context.Background(), "nope")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	ts.do(t, http.MethodGet, "/healthz", nil, http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])
}
