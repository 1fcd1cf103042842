package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
)

// BulkEvent is one value entered for many employees at once, e.g. a team
// lead recording group filling for the whole team.
type BulkEvent struct {
	BatchID     string // generated when empty
	Period      generic.Period
	Kind        Kind
	Value       decimal.Decimal
	Description string
	Source      generic.Source
	RecordedBy  string
	OccurredAt  time.Time

	// EmployeeIDs to credit. Empty means every open record of the period
	// that has a target of Kind.
	EmployeeIDs []generic.EntityID
}

// BulkResult is the outcome for one employee of a bulk entry.
type BulkResult struct {
	EmployeeID generic.EntityID
	EventID    generic.TransactionID
	Record     *Record
	Err        error
}

// BulkEventID is the idempotency key of one employee's share of a batch, so
// resubmitting a batch never double counts.
func BulkEventID(batchID string, employeeID generic.EntityID) generic.TransactionID {
	return generic.TransactionID(batchID + ":" + string(employeeID))
}

// ApplyBulk applies one event per affected target. Each employee is an
// independent ApplyEvent: a failure for one does not roll back the others.
func (e *Engine) ApplyBulk(ctx context.Context, b BulkEvent) (string, []BulkResult, error) {
	if b.Period.IsZero() || b.Kind == "" || b.Value.IsZero() {
		return "", nil, fmt.Errorf("%w: bulk entry needs period, kind and a non-zero value", generic.ErrInvalidEvent)
	}
	if b.BatchID == "" {
		b.BatchID = uuid.NewString()
	}

	employees := b.EmployeeIDs
	if len(employees) == 0 {
		var err error
		if employees, err = e.employeesWithKind(ctx, b.Period, b.Kind); err != nil {
			return b.BatchID, nil, err
		}
	}

	results := make([]BulkResult, 0, len(employees))
	applied := 0
	for _, id := range employees {
		ev := Event{
			ID:          BulkEventID(b.BatchID, id),
			EmployeeID:  id,
			Period:      b.Period,
			Kind:        b.Kind,
			Value:       b.Value,
			Description: b.Description,
			Source:      b.Source,
			RecordedBy:  b.RecordedBy,
			OccurredAt:  b.OccurredAt,
			Metadata:    map[string]string{"batch_id": b.BatchID},
		}
		rec, err := e.ApplyEvent(ctx, ev)
		if err == nil {
			applied++
		}
		results = append(results, BulkResult{EmployeeID: id, EventID: ev.ID, Record: rec, Err: err})
	}

	e.log.Info().
		Str("batch_id", b.BatchID).
		Str("period", b.Period.Key()).
		Str("kind", string(b.Kind)).
		Int("employees", len(employees)).
		Int("applied", applied).
		Msg("bulk entry applied")
	return b.BatchID, results, nil
}

func (e *Engine) employeesWithKind(ctx context.Context, period generic.Period, kind Kind) ([]generic.EntityID, error) {
	recs, err := e.store.ListRecords(ctx, RecordFilter{Period: period.Key()})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var ids []generic.EntityID
	for i := range recs {
		if !recs[i].Status.Open() {
			continue
		}
		if _, ok := recs[i].TargetByKind(kind); ok {
			ids = append(ids, recs[i].EmployeeID)
		}
	}
	return ids, nil
}
