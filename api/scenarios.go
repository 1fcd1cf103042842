/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with an employee,
	a policy and a record in the current month, then replay a few events so
	the dashboard has something to show.

AVAILABLE SCENARIOS:

	lead-generation:  50 leads target, two events reaching 84%
	penalty:          Penalties on, 15 of 40 collected, capped penalty
	over-achievement: 125 of 100 tasks, uncapped bonus, achieved

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Seed the scenario's policy as version 1
 3. Create employee
 4. Create and activate the record
 5. Apply the achievement events

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "penalty"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handlers
  - performance/engine.go: The operations replayed here
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	policy   func() incentive.Settings
	employee performance.Employee
	target   performance.TargetDefinition
	events   []int64
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "lead-generation",
			Name:        "Lead Generation",
			Description: "50 leads for 15000; +20 and +22 reach 84% and pay 12600",
		},
		policy:   incentive.DefaultSettings,
		employee: performance.Employee{ID: "emp-alice", Name: "Alice Martin", Email: "alice@example.com"},
		target: performance.TargetDefinition{
			Kind:          performance.KindLeadGeneration,
			TargetValue:   decimal.NewFromInt(50),
			IncentiveBase: decimal.NewFromInt(15000),
		},
		events: []int64{20, 22},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "penalty",
			Name:        "Below Threshold Penalty",
			Description: "Penalties on with a 25% cap; 15 of 40 is 37.5% and costs 1500",
		},
		policy: func() incentive.Settings {
			s := incentive.DefaultSettings()
			s.PenaltyEnabled = true
			s.MaxPenaltyPercent = decimal.NewFromInt(25)
			return s
		},
		employee: performance.Employee{ID: "emp-bob", Name: "Bob Chen", Email: "bob@example.com"},
		target: performance.TargetDefinition{
			Kind:          performance.KindCollectionAmount,
			TargetValue:   decimal.NewFromInt(40),
			IncentiveBase: decimal.NewFromInt(12000),
		},
		events: []int64{15},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "over-achievement",
			Name:        "Over-Achievement",
			Description: "125 of 100 tasks; bonus is uncapped at 10000",
		},
		policy:   incentive.DefaultSettings,
		employee: performance.Employee{ID: "emp-carol", Name: "Carol Diaz", Email: "carol@example.com"},
		target: performance.TargetDefinition{
			Kind:          performance.KindTaskCompletion,
			TargetValue:   decimal.NewFromInt(100),
			IncentiveBase: decimal.NewFromInt(8000),
		},
		events: []int64{125},
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Seed(r.Context(), req.ScenarioID)
	if err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// Seed loads a scenario by ID and returns the resulting record. Used by the
// API and by the server's SEED_SCENARIO option.
func (h *Handler) Seed(ctx context.Context, id string) (*performance.Record, error) {
	var sc *scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			sc = &scenarios[i]
		}
	}
	if sc == nil {
		return nil, fmt.Errorf("%w: scenario %q", generic.ErrEntityNotFound, id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset store: %w", err)
	}
	if _, err := h.Engine.LoadPolicy(ctx, sc.policy()); err != nil {
		return nil, err
	}

	emp := sc.employee
	emp.HireDate = time.Date(2023, time.January, 9, 0, 0, 0, 0, time.UTC)
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		return nil, fmt.Errorf("save employee: %w", err)
	}

	period := generic.PeriodFor(h.Engine.Clock())
	if _, err := h.Engine.CreateRecord(ctx, emp.ID, period, []performance.TargetDefinition{sc.target}); err != nil {
		return nil, err
	}
	rec, err := h.Engine.ActivateRecord(ctx, emp.ID, period)
	if err != nil {
		return nil, err
	}
	for i, v := range sc.events {
		rec, err = h.Engine.ApplyEvent(ctx, performance.Event{
			ID:          generic.TransactionID(fmt.Sprintf("%s-%d", sc.ID, i+1)),
			EmployeeID:  emp.ID,
			Period:      period,
			Kind:        sc.target.Kind,
			Value:       decimal.NewFromInt(v),
			Description: "demo event",
			Source:      generic.SourceSystem,
			RecordedBy:  "scenario",
		})
		if err != nil {
			return nil, err
		}
	}

	h.currentScenario = sc.ID
	h.log.Info().Str("scenario", sc.ID).Str("employee_id", string(emp.ID)).Msg("scenario loaded")
	return rec, nil
}
