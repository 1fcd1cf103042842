// Package memory provides an in-process performance.Store for tests, demos
// and single-node development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps everything in maps behind one RWMutex. Records are copied on
// the way in and out so callers never alias stored state.
type Store struct {
	mu           sync.RWMutex
	transactions map[generic.TargetID][]generic.Transaction
	eventIDs     map[generic.TransactionID]bool
	records      map[recordKey]*performance.Record
	targets      map[generic.TargetID]recordKey
	policies     map[int]incentive.Settings
	employees    map[generic.EntityID]performance.Employee
}

type recordKey struct {
	EmployeeID generic.EntityID
	Period     string
}

var (
	_ performance.Store         = (*Store)(nil)
	_ performance.EmployeeStore = (*Store)(nil)
)

func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.transactions = make(map[generic.TargetID][]generic.Transaction)
	s.eventIDs = make(map[generic.TransactionID]bool)
	s.records = make(map[recordKey]*performance.Record)
	s.targets = make(map[generic.TargetID]recordKey)
	s.policies = make(map[int]incentive.Settings)
	s.employees = make(map[generic.EntityID]performance.Employee)
}

// Reset clears all data. Used by the demo scenario loader.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) appendLocked(tx generic.Transaction) error {
	if s.eventIDs[tx.ID] {
		return fmt.Errorf("%w: %s", generic.ErrDuplicateEvent, tx.ID)
	}
	txs := s.transactions[tx.TargetID]

	// Keep history ordered by occurrence; ties keep arrival order.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].OccurredAt.After(tx.OccurredAt)
	})
	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	s.transactions[tx.TargetID] = txs
	s.eventIDs[tx.ID] = true
	return nil
}

func (s *Store) Load(_ context.Context, targetID generic.TargetID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]generic.Transaction, len(s.transactions[targetID]))
	copy(result, s.transactions[targetID])
	return result, nil
}

func (s *Store) Exists(_ context.Context, id generic.TransactionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventIDs[id], nil
}

// =============================================================================
// RECORDS
// =============================================================================

func (s *Store) GetRecord(_ context.Context, employeeID generic.EntityID, period generic.Period) (*performance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{employeeID, period.Key()}]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *Store) ListRecords(_ context.Context, filter performance.RecordFilter) ([]performance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []performance.Record
	for k, rec := range s.records {
		if filter.Period != "" && k.Period != filter.Period {
			continue
		}
		if filter.EmployeeID != "" && k.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, *rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period.Key() != out[j].Period.Key() {
			return out[i].Period.Key() < out[j].Period.Key()
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

func (s *Store) FindTarget(_ context.Context, targetID generic.TargetID) (*performance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.targets[targetID]
	if !ok {
		return nil, nil
	}
	return s.records[k].Clone(), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot and
// rollback on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx performance.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{parent: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	transactions map[generic.TargetID][]generic.Transaction
	eventIDs     map[generic.TransactionID]bool
	records      map[recordKey]*performance.Record
	targets      map[generic.TargetID]recordKey
}

// snapshot copies the maps a transaction can write. Stored records are
// replaced wholesale on update, never mutated, so pointers can be shared.
func (s *Store) snapshot() snapshot {
	snap := snapshot{
		transactions: make(map[generic.TargetID][]generic.Transaction, len(s.transactions)),
		eventIDs:     make(map[generic.TransactionID]bool, len(s.eventIDs)),
		records:      make(map[recordKey]*performance.Record, len(s.records)),
		targets:      make(map[generic.TargetID]recordKey, len(s.targets)),
	}
	for k, v := range s.transactions {
		snap.transactions[k] = append([]generic.Transaction{}, v...)
	}
	for k, v := range s.eventIDs {
		snap.eventIDs[k] = v
	}
	for k, v := range s.records {
		snap.records[k] = v
	}
	for k, v := range s.targets {
		snap.targets[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.transactions = snap.transactions
	s.eventIDs = snap.eventIDs
	s.records = snap.records
	s.targets = snap.targets
}

type txView struct {
	parent *Store
}

func (tv *txView) Append(_ context.Context, tx generic.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txView) InsertRecord(_ context.Context, rec *performance.Record) error {
	k := recordKey{rec.EmployeeID, rec.Period.Key()}
	if _, ok := tv.parent.records[k]; ok {
		return generic.ErrRecordExists
	}
	tv.parent.records[k] = rec.Clone()
	for _, t := range rec.Targets {
		tv.parent.targets[t.ID] = k
	}
	return nil
}

func (tv *txView) UpdateRecord(_ context.Context, rec *performance.Record, expectedVersion int) error {
	k := recordKey{rec.EmployeeID, rec.Period.Key()}
	stored, ok := tv.parent.records[k]
	if !ok || stored.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	rec.Version = expectedVersion + 1
	tv.parent.records[k] = rec.Clone()
	for _, t := range rec.Targets {
		tv.parent.targets[t.ID] = k
	}
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) SavePolicy(_ context.Context, p incentive.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.Version]; ok {
		return fmt.Errorf("policy version %d already saved", p.Version)
	}
	s.policies[p.Version] = p
	return nil
}

func (s *Store) LatestPolicy(_ context.Context) (*incentive.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := 0
	for v := range s.policies {
		if v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return nil, nil
	}
	p := s.policies[latest]
	return &p, nil
}

func (s *Store) GetPolicy(_ context.Context, version int) (*incentive.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[version]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListPolicies(_ context.Context) ([]incentive.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]incentive.Settings, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(_ context.Context, emp performance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[emp.ID] = emp
	return nil
}

func (s *Store) GetEmployee(_ context.Context, id generic.EntityID) (*performance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emp, ok := s.employees[id]
	if !ok {
		return nil, nil
	}
	return &emp, nil
}

func (s *Store) ListEmployees(_ context.Context) ([]performance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]performance.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EmployeeExists(_ context.Context, id generic.EntityID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.employees[id]
	return ok, nil
}
