/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  handles persistence while maintaining append-only semantics. Different
  implementations use SQLite, PostgreSQL, or in-memory storage.

APPEND-ONLY CONTRACT:
  - This interface only reads. Appends happen only inside a store
    transaction (performance.Tx) together with the record they change.
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  The transaction ID is the idempotency key. If the ID already exists,
  the write is rejected with ErrDuplicateEvent. This prevents double
  counting from network retries or a source replaying its outbox.

IMPLEMENTATIONS:
  - store/sqlite: SQLite (default)
  - store/postgres: PostgreSQL via pgx
  - store/memory: In-memory for tests and demos

SEE ALSO:
  - ledger.go: Higher-level interface using Store
  - performance/store.go: Record persistence built on top of this
*/
package generic

import "context"

// =============================================================================
// STORE - Read interface for transaction persistence
// =============================================================================

// Store reads persisted transactions.
// IMPORTANT: the ledger is APPEND-ONLY. No Update, No Delete. Ever.
// Corrections are made via signed correction transactions.
type Store interface {
	// Load returns all transactions for a target, ordered by OccurredAt then
	// insertion order.
	Load(ctx context.Context, targetID TargetID) ([]Transaction, error)

	// Exists checks if a transaction ID was already appended.
	Exists(ctx context.Context, id TransactionID) (bool, error)
}
