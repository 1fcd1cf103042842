/*
sources.go - Event constructors for the systems that report achievements

PURPOSE:
  The CRM, the task board, the ticket desk and the manual entry screen each
  report achievements in their own terms. These constructors translate them
  into Events so the engine never needs to know who is calling.

  Source        Kind               Value
  ------        ----               -----
  LeadAdded     lead_generation    +1 per lead
  TaskCompleted task_completion    +1 per task
  TicketResolved collection_amount amount collected on the ticket
  ManualEntry   any                signed, entered by a person
  Correction    any                signed, reverses a bad entry

  Integrations pass their own record ID as the event ID, so a redelivered
  webhook is rejected as a duplicate instead of counted twice.
*/
package performance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
)

// Emitter accepts events from a source. *Engine implements it.
type Emitter interface {
	ApplyEvent(ctx context.Context, ev Event) (*Record, error)
}

var _ Emitter = (*Engine)(nil)

// LeadAdded credits one lead to the employee who created it.
func LeadAdded(leadID string, employeeID generic.EntityID, createdAt time.Time) Event {
	return Event{
		ID:          generic.TransactionID("lead:" + leadID),
		EmployeeID:  employeeID,
		Period:      generic.PeriodFor(createdAt),
		Kind:        KindLeadGeneration,
		Value:       decimal.NewFromInt(1),
		Description: "lead " + leadID + " added",
		Source:      generic.SourceIntegration,
		OccurredAt:  createdAt,
		Metadata:    map[string]string{"lead_id": leadID},
	}
}

// TaskCompleted credits one task to its assignee.
func TaskCompleted(taskID string, employeeID generic.EntityID, completedAt time.Time) Event {
	return Event{
		ID:          generic.TransactionID("task:" + taskID),
		EmployeeID:  employeeID,
		Period:      generic.PeriodFor(completedAt),
		Kind:        KindTaskCompletion,
		Value:       decimal.NewFromInt(1),
		Description: "task " + taskID + " completed",
		Source:      generic.SourceSystem,
		OccurredAt:  completedAt,
		Metadata:    map[string]string{"task_id": taskID},
	}
}

// TicketResolved credits the amount collected when a ticket is closed.
func TicketResolved(ticketID string, employeeID generic.EntityID, collected decimal.Decimal, resolvedAt time.Time) Event {
	return Event{
		ID:          generic.TransactionID("ticket:" + ticketID),
		EmployeeID:  employeeID,
		Period:      generic.PeriodFor(resolvedAt),
		Kind:        KindCollectionAmount,
		Value:       collected,
		Description: "ticket " + ticketID + " resolved",
		Source:      generic.SourceIntegration,
		OccurredAt:  resolvedAt,
		Metadata:    map[string]string{"ticket_id": ticketID},
	}
}

// ManualEntry is a value typed in by a person. The engine assigns the ID.
func ManualEntry(employeeID generic.EntityID, period generic.Period, kind Kind, value decimal.Decimal, description, recordedBy string) Event {
	return Event{
		EmployeeID:  employeeID,
		Period:      period,
		Kind:        kind,
		Value:       value,
		Description: description,
		Source:      generic.SourceManual,
		RecordedBy:  recordedBy,
	}
}

// Correction reverses part or all of an earlier event. History is kept;
// the ledger records both entries.
func Correction(original Event, value decimal.Decimal, reason, recordedBy string) Event {
	ev := Event{
		EmployeeID:  original.EmployeeID,
		Period:      original.Period,
		Kind:        original.Kind,
		Value:       value,
		Description: reason,
		Source:      generic.SourceManual,
		RecordedBy:  recordedBy,
		Metadata:    map[string]string{"corrects": string(original.ID)},
	}
	if original.ID != "" {
		ev.ID = generic.TransactionID(string(original.ID) + ":correction:" + value.String())
	}
	return ev
}
