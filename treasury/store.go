/*
store.go - Persistence contracts for funds and ledger transactions

PURPOSE:
  Defines the interface between the ledger logic and the database. The
  Store handles persistence only; balances, validation and authorization
  are decided by the ledger package.

KEY INTERFACES:
  FundStore:        Fund rows (get, find by name, save, delete)
  TransactionStore: Ledger rows (insert, update, delete, filtered listing)
  Store:            Both, plus WithTx for atomic multi-row writes

MISSING ROWS:
  Getters return (nil, nil) when the row does not exist. The caller turns
  that into a NotFound error with the right wording.

QUERY CAPABILITY:
  ListTransactions supports equality filters plus one date range. There is
  no OR; callers needing "church X OR national" run two listings and merge.

ATOMICITY:
  WithTx runs fn against a transactional view. If fn returns an error,
  every write made through the view is rolled back. Calling WithTx on a
  view joins the enclosing transaction, so services can nest freely.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - treasury/store/memory.go: In-memory for tests
*/
package treasury

import "context"

type FundStore interface {
	GetFund(ctx context.Context, id FundID) (*Fund, error)

	// FindFundByName matches the already-normalized name exactly.
	FindFundByName(ctx context.Context, name string) (*Fund, error)

	ListFunds(ctx context.Context) ([]Fund, error)

	// SaveFund inserts or replaces the fund row.
	SaveFund(ctx context.Context, f Fund) error

	DeleteFund(ctx context.Context, id FundID) error
}

type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// UpdateTransaction replaces the stored row with the same ID.
	UpdateTransaction(ctx context.Context, tx Transaction) error

	DeleteTransaction(ctx context.Context, id TransactionID) error

	// ListTransactions returns matching rows ordered by Date then CreatedAt.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	CountTransactions(ctx context.Context, fundID FundID) (int, error)
}

// Store is the full ledger persistence contract.
type Store interface {
	FundStore
	TransactionStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
