package performance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
)

// DefaultMaxRetries bounds how often a mutation is re-derived after losing
// an optimistic version race to another process.
const DefaultMaxRetries = 3

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the single writer of performance records.
type Engine struct {
	store    Store
	policies *incentive.Holder
	ledger   *AchievementLedger
	locks    *recordLocks
	log      zerolog.Logger

	// Directory validates employees on CreateRecord. Nil skips the check.
	Directory Directory

	// Clock returns the current time. Tests pin it.
	Clock func() time.Time

	MaxRetries int
}

// NewEngine wires an engine to its store and policy holder. If the store
// also carries the employee directory it is used for validation.
func NewEngine(store Store, policies *incentive.Holder, log zerolog.Logger) *Engine {
	e := &Engine{
		store:      store,
		policies:   policies,
		ledger:     NewAchievementLedger(store),
		locks:      newRecordLocks(),
		log:        log.With().Str("component", "performance").Logger(),
		Clock:      func() time.Time { return time.Now().UTC() },
		MaxRetries: DefaultMaxRetries,
	}
	if d, ok := store.(Directory); ok {
		e.Directory = d
	}
	return e
}

func recordKey(employeeID generic.EntityID, period generic.Period) string {
	return string(employeeID) + "|" + period.Key()
}

// =============================================================================
// POLICY
// =============================================================================

// LoadPolicy publishes the latest persisted settings. When the store has
// none, seed is persisted as version 1 and published.
func (e *Engine) LoadPolicy(ctx context.Context, seed incentive.Settings) (incentive.Settings, error) {
	latest, err := e.store.LatestPolicy(ctx)
	if err != nil {
		return incentive.Settings{}, fmt.Errorf("load policy: %w", err)
	}
	if latest != nil {
		e.policies.Restore(*latest)
		e.log.Info().Int("policy_version", latest.Version).Msg("policy loaded")
		return *latest, nil
	}

	if err := seed.Validate(); err != nil {
		return incentive.Settings{}, err
	}
	seed.Version = 1
	if seed.EffectiveAt.IsZero() {
		seed.EffectiveAt = e.Clock()
	}
	if err := e.store.SavePolicy(ctx, seed); err != nil {
		return incentive.Settings{}, generic.StorageFailure("seed policy", err)
	}
	e.policies.Restore(seed)
	e.log.Info().Int("policy_version", seed.Version).Msg("policy seeded")
	return seed, nil
}

// GetPolicy returns the settings in effect.
func (e *Engine) GetPolicy() incentive.Settings {
	return e.policies.Current()
}

// GetPolicyVersion returns a historical settings version.
func (e *Engine) GetPolicyVersion(ctx context.Context, version int) (*incentive.Settings, error) {
	s, err := e.store.GetPolicy(ctx, version)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: version %d", generic.ErrPolicyNotFound, version)
	}
	return s, nil
}

// ListPolicies returns every persisted settings version, oldest first.
func (e *Engine) ListPolicies(ctx context.Context) ([]incentive.Settings, error) {
	return e.store.ListPolicies(ctx)
}

// ReplacePolicy persists s as the next version and makes it current for
// every later computation. Existing records keep their values until they
// are recomputed.
func (e *Engine) ReplacePolicy(ctx context.Context, s incentive.Settings, actor string) (incentive.Settings, error) {
	s.UpdatedBy = actor
	published, err := e.policies.Replace(s, e.Clock(), func(next incentive.Settings) error {
		if err := e.store.SavePolicy(ctx, next); err != nil {
			return generic.StorageFailure("save policy", err)
		}
		return nil
	})
	if err != nil {
		e.log.Debug().Err(err).Msg("policy replace rejected")
		return incentive.Settings{}, err
	}
	e.log.Info().
		Int("policy_version", published.Version).
		Str("method", string(published.CalculationMethod)).
		Str("threshold", published.MinPerformanceThreshold.String()).
		Bool("penalty_enabled", published.PenaltyEnabled).
		Str("updated_by", actor).
		Msg("policy replaced")
	return published, nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateRecord assigns targets to an employee for a period. Definitions
// with a zero target value are treated as unassigned and skipped; at least
// one positive target must remain. The record starts as draft.
func (e *Engine) CreateRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period, defs []TargetDefinition) (*Record, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("%w: employee id is required", generic.ErrEntityNotFound)
	}
	if period.IsZero() {
		return nil, fmt.Errorf("%w: period is required", generic.ErrInvalidPeriod)
	}
	now := e.Clock()
	targets, err := buildTargets(employeeID, period, defs)
	if err != nil {
		return nil, err
	}

	if e.Directory != nil {
		exists, err := e.Directory.EmployeeExists(ctx, employeeID)
		if err != nil {
			return nil, fmt.Errorf("directory lookup: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", generic.ErrEntityNotFound, employeeID)
		}
	}

	rec := &Record{
		ID:         uuid.NewString(),
		EmployeeID: employeeID,
		Period:     period,
		Targets:    targets,
		Status:     RecordDraft,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := rec.recomputeAll(e.policies.Current(), now); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(recordKey(employeeID, period))
	defer unlock()

	err = e.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertRecord(ctx, rec)
	})
	if err != nil {
		if errors.Is(err, generic.ErrRecordExists) {
			return nil, fmt.Errorf("%w: %s/%s", generic.ErrRecordExists, employeeID, period.Key())
		}
		e.log.Error().Err(err).Str("employee_id", string(employeeID)).Str("period", period.Key()).Msg("create record failed")
		return nil, generic.StorageFailure("create record", err)
	}

	e.log.Info().
		Str("employee_id", string(employeeID)).
		Str("period", period.Key()).
		Int("targets", len(rec.Targets)).
		Msg("record created")
	return rec, nil
}

func buildTargets(employeeID generic.EntityID, period generic.Period, defs []TargetDefinition) ([]Target, error) {
	seen := make(map[Kind]bool, len(defs))
	var targets []Target
	for _, def := range defs {
		if !def.Kind.Valid() {
			return nil, fmt.Errorf("%w: kind %q", generic.ErrInvalidTargetDefinition, def.Kind)
		}
		if seen[def.Kind] {
			return nil, fmt.Errorf("%w: %s", generic.ErrDuplicateTargetKind, def.Kind)
		}
		seen[def.Kind] = true

		if def.TargetValue.IsNegative() {
			return nil, fmt.Errorf("%w: %s target value %s", generic.ErrInvalidTargetDefinition, def.Kind, def.TargetValue)
		}
		if def.IncentiveBase.IsNegative() {
			return nil, fmt.Errorf("%w: %s incentive base %s", generic.ErrInvalidTargetDefinition, def.Kind, def.IncentiveBase)
		}
		if def.TargetValue.IsZero() {
			continue
		}

		info := def.Kind.info()
		unit := def.Unit
		if unit == "" {
			unit = info.DefaultUnit
		}
		if !unit.Valid() {
			return nil, fmt.Errorf("%w: %s unit %q", generic.ErrInvalidTargetDefinition, def.Kind, unit)
		}
		name := def.Name
		if name == "" {
			name = info.DisplayName
		}
		deadline := def.Deadline
		if deadline.IsZero() {
			deadline = period.Deadline()
		}

		targets = append(targets, Target{
			ID:            generic.TargetID(uuid.NewString()),
			EmployeeID:    employeeID,
			Period:        period,
			Kind:          def.Kind,
			Name:          name,
			Description:   def.Description,
			TargetValue:   generic.NewAmountFromDecimal(def.TargetValue, unit),
			IncentiveBase: def.IncentiveBase,
			AchievedValue: generic.NewAmountFromInt(0, unit),
			Deadline:      deadline.UTC(),
		})
	}
	if len(targets) == 0 {
		return nil, generic.ErrNoValidTargets
	}
	return targets, nil
}

// =============================================================================
// APPLY EVENT
// =============================================================================

// ApplyEvent records an achievement against the employee's target of the
// event's kind and returns the updated record. Replaying an event ID fails
// with ErrDuplicateEvent and changes nothing.
func (e *Engine) ApplyEvent(ctx context.Context, ev Event) (*Record, error) {
	if err := e.normalizeEvent(&ev); err != nil {
		e.log.Debug().Err(err).Msg("event rejected")
		return nil, err
	}
	settings := e.policies.Current()

	var applied *Target
	rec, err := e.mutate(ctx, ev.EmployeeID, ev.Period, true, func(next *Record, now time.Time) ([]generic.Transaction, error) {
		exists, err := e.store.Exists(ctx, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("check event %s: %w", ev.ID, err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", generic.ErrDuplicateEvent, ev.ID)
		}

		target, ok := next.TargetByKind(ev.Kind)
		if !ok {
			return nil, &generic.UnknownTargetKindError{
				EntityID: ev.EmployeeID,
				Period:   ev.Period.Key(),
				Kind:     string(ev.Kind),
			}
		}

		tx := eventTransaction(ev, target, now)
		if applied, err = e.ledger.Apply(next, tx, settings, now); err != nil {
			return nil, err
		}
		next.RefreshStatuses(now)
		next.Recalculate()
		return []generic.Transaction{tx}, nil
	})
	if err != nil {
		e.log.Debug().Err(err).
			Str("event_id", string(ev.ID)).
			Str("employee_id", string(ev.EmployeeID)).
			Str("period", ev.Period.Key()).
			Str("kind", string(ev.Kind)).
			Msg("event not applied")
		return nil, err
	}

	e.log.Info().
		Str("event_id", string(ev.ID)).
		Str("employee_id", string(ev.EmployeeID)).
		Str("period", ev.Period.Key()).
		Str("kind", string(ev.Kind)).
		Str("value", ev.Value.String()).
		Str("source", string(ev.Source)).
		Str("achieved", applied.AchievedValue.Value.String()).
		Str("percent", applied.AchievementPercent.String()).
		Str("incentive", applied.IncentiveEarned.String()).
		Str("status", string(applied.Status)).
		Msg("event applied")
	return rec, nil
}

func (e *Engine) normalizeEvent(ev *Event) error {
	switch {
	case ev.EmployeeID == "":
		return fmt.Errorf("%w: employee id is required", generic.ErrInvalidEvent)
	case ev.Period.IsZero():
		return fmt.Errorf("%w: period is required", generic.ErrInvalidEvent)
	case ev.Kind == "":
		return fmt.Errorf("%w: kind is required", generic.ErrInvalidEvent)
	case ev.Value.IsZero():
		return fmt.Errorf("%w: value must not be zero", generic.ErrInvalidEvent)
	}
	if ev.Source == "" {
		ev.Source = generic.SourceManual
	}
	if !ev.Source.Valid() {
		return fmt.Errorf("%w: source %q", generic.ErrInvalidEvent, ev.Source)
	}
	if ev.ID == "" {
		ev.ID = generic.TransactionID(uuid.NewString())
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.Clock()
	}
	return nil
}

func eventTransaction(ev Event, target *Target, now time.Time) generic.Transaction {
	txType := generic.TxAchievement
	if ev.Value.IsNegative() {
		txType = generic.TxCorrection
	}
	return generic.Transaction{
		ID:          ev.ID,
		EntityID:    ev.EmployeeID,
		TargetID:    target.ID,
		Period:      ev.Period.Key(),
		OccurredAt:  ev.OccurredAt.UTC(),
		Delta:       generic.NewAmountFromDecimal(ev.Value, target.TargetValue.Unit),
		Type:        txType,
		Source:      ev.Source,
		Description: ev.Description,
		Metadata:    ev.Metadata,
		RecordedBy:  ev.RecordedBy,
		CreatedAt:   now,
	}
}

// =============================================================================
// EDITS AND LIFECYCLE
// =============================================================================

// EditTarget changes a target's definition and recomputes it under the
// current policy.
func (e *Engine) EditTarget(ctx context.Context, employeeID generic.EntityID, period generic.Period, kind Kind, edit TargetEdit) (*Record, error) {
	if edit.TargetValue != nil && !edit.TargetValue.IsPositive() {
		return nil, fmt.Errorf("%w: target value must be positive, got %s", generic.ErrInvalidTargetDefinition, *edit.TargetValue)
	}
	if edit.IncentiveBase != nil && edit.IncentiveBase.IsNegative() {
		return nil, fmt.Errorf("%w: incentive base must not be negative", generic.ErrInvalidTargetDefinition)
	}
	settings := e.policies.Current()

	rec, err := e.mutate(ctx, employeeID, period, true, func(next *Record, now time.Time) ([]generic.Transaction, error) {
		target, ok := next.TargetByKind(kind)
		if !ok {
			return nil, &generic.UnknownTargetKindError{EntityID: employeeID, Period: period.Key(), Kind: string(kind)}
		}
		if edit.Name != nil {
			target.Name = *edit.Name
		}
		if edit.Description != nil {
			target.Description = *edit.Description
		}
		if edit.TargetValue != nil {
			target.TargetValue = generic.NewAmountFromDecimal(*edit.TargetValue, target.TargetValue.Unit)
		}
		if edit.IncentiveBase != nil {
			target.IncentiveBase = *edit.IncentiveBase
		}
		if edit.Deadline != nil {
			target.Deadline = edit.Deadline.UTC()
		}
		if err := target.recompute(settings, now); err != nil {
			return nil, err
		}
		next.RefreshStatuses(now)
		next.Recalculate()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("employee_id", string(employeeID)).Str("period", period.Key()).Str("kind", string(kind)).Msg("target edited")
	return rec, nil
}

// RecomputeRecord re-derives every target under the current policy. This is
// how a replaced policy is applied to an existing record.
func (e *Engine) RecomputeRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) (*Record, error) {
	settings := e.policies.Current()
	rec, err := e.mutate(ctx, employeeID, period, true, func(next *Record, now time.Time) ([]generic.Transaction, error) {
		return nil, next.recomputeAll(settings, now)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("employee_id", string(employeeID)).Str("period", period.Key()).Int("policy_version", settings.Version).Msg("record recomputed")
	return rec, nil
}

// ActivateRecord confirms a draft record's targets.
func (e *Engine) ActivateRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) (*Record, error) {
	return e.transition(ctx, employeeID, period, RecordActive, RecordDraft)
}

// CompleteRecord closes an active record. No further events are accepted.
func (e *Engine) CompleteRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) (*Record, error) {
	return e.transition(ctx, employeeID, period, RecordCompleted, RecordActive)
}

// CancelRecord withdraws a draft or active record.
func (e *Engine) CancelRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) (*Record, error) {
	return e.transition(ctx, employeeID, period, RecordCancelled, RecordDraft, RecordActive)
}

func (e *Engine) transition(ctx context.Context, employeeID generic.EntityID, period generic.Period, to RecordStatus, from ...RecordStatus) (*Record, error) {
	rec, err := e.mutate(ctx, employeeID, period, false, func(next *Record, now time.Time) ([]generic.Transaction, error) {
		for _, s := range from {
			if next.Status == s {
				next.Status = to
				next.RefreshStatuses(now)
				return nil, nil
			}
		}
		return nil, fmt.Errorf("%w: %s -> %s", generic.ErrInvalidStatusTransition, next.Status, to)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("employee_id", string(employeeID)).Str("period", period.Key()).Str("status", string(to)).Msg("record status changed")
	return rec, nil
}

// mutate is the one read-modify-write path for an existing record. It holds
// the record lock, derives the next state from a clone, and writes the
// returned transactions and the record in one store transaction guarded by
// the record version. A lost version race is retried from a fresh read.
func (e *Engine) mutate(ctx context.Context, employeeID generic.EntityID, period generic.Period, requireOpen bool,
	derive func(next *Record, now time.Time) ([]generic.Transaction, error)) (*Record, error) {

	unlock := e.locks.Lock(recordKey(employeeID, period))
	defer unlock()

	for attempt := 0; ; attempt++ {
		current, err := e.store.GetRecord(ctx, employeeID, period)
		if err != nil {
			return nil, fmt.Errorf("load record: %w", err)
		}
		if current == nil {
			return nil, fmt.Errorf("%w: %s/%s", generic.ErrNoActiveRecord, employeeID, period.Key())
		}
		if requireOpen && !current.Status.Open() {
			return nil, fmt.Errorf("%w: %s/%s is %s", generic.ErrNoActiveRecord, employeeID, period.Key(), current.Status)
		}

		now := e.Clock()
		next := current.Clone()
		txs, err := derive(next, now)
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = now

		err = e.store.WithTx(ctx, func(tx Tx) error {
			for _, t := range txs {
				if err := tx.Append(ctx, t); err != nil {
					return err
				}
			}
			return tx.UpdateRecord(ctx, next, current.Version)
		})
		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, generic.ErrConcurrentModification) && attempt < e.MaxRetries:
			e.log.Warn().Str("employee_id", string(employeeID)).Str("period", period.Key()).Int("attempt", attempt+1).Msg("record version conflict, retrying")
			continue
		case errors.Is(err, generic.ErrConcurrentModification), errors.Is(err, generic.ErrDuplicateEvent):
			return nil, err
		default:
			e.log.Error().Err(err).Str("employee_id", string(employeeID)).Str("period", period.Key()).Msg("record write failed")
			return nil, generic.StorageFailure("update record", err)
		}
	}
}

// =============================================================================
// READS
// =============================================================================

// GetRecord returns the record for employee+period with target statuses
// evaluated against the current time.
func (e *Engine) GetRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) (*Record, error) {
	rec, err := e.store.GetRecord(ctx, employeeID, period)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s/%s", generic.ErrNoActiveRecord, employeeID, period.Key())
	}
	rec.RefreshStatuses(e.Clock())
	return rec, nil
}

// ListRecords returns records matching filter with statuses refreshed.
func (e *Engine) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	recs, err := e.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	now := e.Clock()
	for i := range recs {
		recs[i].RefreshStatuses(now)
	}
	return recs, nil
}

// ListAchievements returns the full event history of a target.
func (e *Engine) ListAchievements(ctx context.Context, targetID generic.TargetID) ([]generic.Transaction, error) {
	rec, err := e.store.FindTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("find target: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", generic.ErrTargetNotFound, targetID)
	}
	return e.ledger.History(ctx, targetID)
}

// VerifyRecord checks the replay invariant for every target of a record.
func (e *Engine) VerifyRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) error {
	rec, err := e.GetRecord(ctx, employeeID, period)
	if err != nil {
		return err
	}
	return e.ledger.Verify(ctx, rec)
}

// Summary totals a set of records, e.g. for a payroll pull.
func Summary(recs []Record) (count int, total decimal.Decimal) {
	total = decimal.Zero
	for _, r := range recs {
		total = total.Add(r.TotalIncentive)
	}
	return len(recs), total
}
