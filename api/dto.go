/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the performance domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request shape (required fields, formats, enums) is checked with struct
  tags by go-playground/validator before the engine is called. Business
  rules (positive target values, unique kinds, non-negative accumulation)
  stay in the engine.

NUMBERS:
  Request amounts are decimal.Decimal and accept JSON numbers or strings.
  Responses render amounts as JSON numbers.

SEE ALSO:
  - handlers.go: Uses these types
  - performance/export.go: Export document
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
)

const dateLayout = "2006-01-02"

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	HireDate  string `json:"hire_date"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	HireDate string `json:"hire_date" validate:"required,datetime=2006-01-02"`
}

func toEmployeeDTO(e performance.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:       string(e.ID),
		Name:     e.Name,
		Email:    e.Email,
		HireDate: e.HireDate.Format(dateLayout),
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// RECORDS
// =============================================================================

// CreateRecordRequest assigns targets, either listed or from a template.
type CreateRecordRequest struct {
	EmployeeID string                    `json:"employee_id" validate:"required"`
	Period     string                    `json:"period" validate:"required,datetime=2006-01"`
	Template   string                    `json:"template,omitempty"`
	Targets    []TargetDefinitionRequest `json:"targets" validate:"required_without=Template,dive"`
}

type TargetDefinitionRequest struct {
	Kind          string          `json:"kind" validate:"required"`
	Name          string          `json:"name,omitempty"`
	Description   string          `json:"description,omitempty"`
	TargetValue   decimal.Decimal `json:"target_value"`
	Unit          string          `json:"unit,omitempty" validate:"omitempty,oneof=count amount percentage"`
	IncentiveBase decimal.Decimal `json:"incentive_base"`
	Deadline      string          `json:"deadline,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (t TargetDefinitionRequest) definition() (performance.TargetDefinition, error) {
	def := performance.TargetDefinition{
		Kind:          performance.Kind(t.Kind),
		Name:          t.Name,
		Description:   t.Description,
		TargetValue:   t.TargetValue,
		Unit:          generic.Unit(t.Unit),
		IncentiveBase: t.IncentiveBase,
	}
	if t.Deadline != "" {
		d, err := time.Parse(dateLayout, t.Deadline)
		if err != nil {
			return def, err
		}
		def.Deadline = generic.TimePoint{Time: d}.EndOfDay()
	}
	return def, nil
}

// EditTargetRequest changes a target. Omitted fields are left alone.
type EditTargetRequest struct {
	Name          *string          `json:"name,omitempty"`
	Description   *string          `json:"description,omitempty"`
	TargetValue   *decimal.Decimal `json:"target_value,omitempty"`
	IncentiveBase *decimal.Decimal `json:"incentive_base,omitempty"`
	Deadline      *string          `json:"deadline,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// RecordDTO represents a performance record in API responses.
type RecordDTO struct {
	ID                 string      `json:"id"`
	EmployeeID         string      `json:"employee_id"`
	Period             string      `json:"period"`
	Status             string      `json:"status"`
	Targets            []TargetDTO `json:"targets"`
	OverallPerformance float64     `json:"overall_performance"`
	TotalIncentive     float64     `json:"total_incentive"`
	Version            int         `json:"version"`
	CreatedAt          string      `json:"created_at"`
	UpdatedAt          string      `json:"updated_at"`
}

type TargetDTO struct {
	ID                 string  `json:"id"`
	Kind               string  `json:"kind"`
	Name               string  `json:"name"`
	Description        string  `json:"description,omitempty"`
	TargetValue        float64 `json:"target_value"`
	Unit               string  `json:"unit"`
	IncentiveBase      float64 `json:"incentive_base"`
	AchievedValue      float64 `json:"achieved_value"`
	AchievementPercent float64 `json:"achievement_percent"`
	IncentiveEarned    float64 `json:"incentive_earned"`
	Status             string  `json:"status"`
	PolicyVersion      int     `json:"policy_version"`
	Deadline           string  `json:"deadline"`
}

func toRecordDTO(rec *performance.Record) RecordDTO {
	dto := RecordDTO{
		ID:                 rec.ID,
		EmployeeID:         string(rec.EmployeeID),
		Period:             rec.Period.Key(),
		Status:             string(rec.Status),
		Targets:            make([]TargetDTO, 0, len(rec.Targets)),
		OverallPerformance: rec.OverallPerformance.InexactFloat64(),
		TotalIncentive:     rec.TotalIncentive.InexactFloat64(),
		Version:            rec.Version,
		CreatedAt:          rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          rec.UpdatedAt.Format(time.RFC3339),
	}
	for _, t := range rec.Targets {
		dto.Targets = append(dto.Targets, TargetDTO{
			ID:                 string(t.ID),
			Kind:               string(t.Kind),
			Name:               t.Name,
			Description:        t.Description,
			TargetValue:        t.TargetValue.Value.InexactFloat64(),
			Unit:               string(t.TargetValue.Unit),
			IncentiveBase:      t.IncentiveBase.InexactFloat64(),
			AchievedValue:      t.AchievedValue.Value.InexactFloat64(),
			AchievementPercent: t.AchievementPercent.InexactFloat64(),
			IncentiveEarned:    t.IncentiveEarned.InexactFloat64(),
			Status:             string(t.Status),
			PolicyVersion:      t.PolicyVersion,
			Deadline:           t.Deadline.Format(time.RFC3339),
		})
	}
	return dto
}

// =============================================================================
// EVENTS
// =============================================================================

// EventRequest reports an achievement.
type EventRequest struct {
	ID          string            `json:"id,omitempty"`
	EmployeeID  string            `json:"employee_id" validate:"required"`
	Period      string            `json:"period" validate:"required,datetime=2006-01"`
	Kind        string            `json:"kind" validate:"required"`
	Value       decimal.Decimal   `json:"value"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty" validate:"omitempty,oneof=manual system integration"`
	RecordedBy  string            `json:"recorded_by,omitempty"`
	OccurredAt  *time.Time        `json:"occurred_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BulkEventRequest reports one value for many employees.
type BulkEventRequest struct {
	BatchID     string          `json:"batch_id,omitempty"`
	Period      string          `json:"period" validate:"required,datetime=2006-01"`
	Kind        string          `json:"kind" validate:"required"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
	Source      string          `json:"source,omitempty" validate:"omitempty,oneof=manual system integration"`
	RecordedBy  string          `json:"recorded_by,omitempty"`
	EmployeeIDs []string        `json:"employee_ids,omitempty" validate:"dive,required"`
}

type BulkResultDTO struct {
	EmployeeID string     `json:"employee_id"`
	EventID    string     `json:"event_id"`
	Applied    bool       `json:"applied"`
	Error      string     `json:"error,omitempty"`
	Record     *RecordDTO `json:"record,omitempty"`
}

type BulkResponse struct {
	BatchID string          `json:"batch_id"`
	Applied int             `json:"applied"`
	Failed  int             `json:"failed"`
	Results []BulkResultDTO `json:"results"`
}

// AchievementDTO is one ledger entry.
type AchievementDTO struct {
	ID          string            `json:"id"`
	EmployeeID  string            `json:"employee_id"`
	TargetID    string            `json:"target_id"`
	Period      string            `json:"period"`
	Value       float64           `json:"value"`
	Unit        string            `json:"unit"`
	Type        string            `json:"type"`
	Source      string            `json:"source"`
	Description string            `json:"description,omitempty"`
	RecordedBy  string            `json:"recorded_by,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  string            `json:"occurred_at"`
	CreatedAt   string            `json:"created_at"`
}

func toAchievementDTO(tx generic.Transaction) AchievementDTO {
	return AchievementDTO{
		ID:          string(tx.ID),
		EmployeeID:  string(tx.EntityID),
		TargetID:    string(tx.TargetID),
		Period:      tx.Period,
		Value:       tx.Delta.Value.InexactFloat64(),
		Unit:        string(tx.Delta.Unit),
		Type:        string(tx.Type),
		Source:      string(tx.Source),
		Description: tx.Description,
		RecordedBy:  tx.RecordedBy,
		Metadata:    tx.Metadata,
		OccurredAt:  tx.OccurredAt.Format(time.RFC3339),
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// POLICY
// =============================================================================

// PolicyRequest replaces the incentive policy. An omitted threshold means
// incentive.DefaultThreshold.
type PolicyRequest struct {
	MinPerformanceThreshold *decimal.Decimal `json:"min_performance_threshold"`
	CalculationMethod       string           `json:"calculation_method" validate:"required"`
	PenaltyEnabled          bool             `json:"penalty_enabled"`
	MaxPenaltyPercent       decimal.Decimal  `json:"max_penalty_percent"`
	UpdatedBy               string           `json:"updated_by,omitempty"`
}

func (req PolicyRequest) settings() incentive.Settings {
	threshold := incentive.DefaultThreshold
	if req.MinPerformanceThreshold != nil {
		threshold = *req.MinPerformanceThreshold
	}
	return incentive.Settings{
		MinPerformanceThreshold: threshold,
		CalculationMethod:       incentive.Method(req.CalculationMethod),
		PenaltyEnabled:          req.PenaltyEnabled,
		MaxPenaltyPercent:       req.MaxPenaltyPercent,
	}
}

type PolicyDTO struct {
	Version                 int     `json:"version"`
	MinPerformanceThreshold float64 `json:"min_performance_threshold"`
	CalculationMethod       string  `json:"calculation_method"`
	PenaltyEnabled          bool    `json:"penalty_enabled"`
	MaxPenaltyPercent       float64 `json:"max_penalty_percent"`
	EffectiveAt             string  `json:"effective_at,omitempty"`
	UpdatedBy               string  `json:"updated_by,omitempty"`
}

func toPolicyDTO(s incentive.Settings) PolicyDTO {
	dto := PolicyDTO{
		Version:                 s.Version,
		MinPerformanceThreshold: s.MinPerformanceThreshold.InexactFloat64(),
		CalculationMethod:       string(s.CalculationMethod),
		PenaltyEnabled:          s.PenaltyEnabled,
		MaxPenaltyPercent:       s.MaxPenaltyPercent.InexactFloat64(),
		UpdatedBy:               s.UpdatedBy,
	}
	if !s.EffectiveAt.IsZero() {
		dto.EffectiveAt = s.EffectiveAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
