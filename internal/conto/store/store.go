// Package store persists ledger entries, unreconciled entries and import
// records, and runs the scoped read queries of the reporting layer.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/scope"
)

// ErrDuplicateKey is returned when a row with the same import key already
// exists for the account.
var ErrDuplicateKey = errors.New("store: import key already present")

// Filter narrows a read to one account, one caller scope and optional
// date range and free text.
type Filter struct {
	Account conto.Account
	Scope   scope.Scope
	From    *time.Time
	To      *time.Time
	Query   string
}

// Totals are the plain sums of the visible rows.
type Totals struct {
	Incoming          decimal.Decimal
	Outgoing          decimal.Decimal
	Unreconciled      decimal.Decimal
	TransactionCount  int
	UnreconciledCount int
}

// Repository is the persistence boundary of the engine.
type Repository interface {
	InsertTransaction(ctx context.Context, tx conto.Transaction) error
	InsertUnreconciled(ctx context.Context, e conto.UnreconciledEntry) error
	// InsertImport is the uniqueness gate of a file: a second insert of the
	// same hash on the same account returns conto.ErrAlreadyImported.
	InsertImport(ctx context.Context, rec conto.ImportRecord) error
	FindImport(ctx context.Context, account conto.Account, fileHash string) (conto.ImportRecord, error)
	ExistingKeys(ctx context.Context, account conto.Account, keys []string) (map[string]struct{}, error)

	ListTransactions(ctx context.Context, f Filter, limit, offset int) ([]conto.Transaction, int, error)
	ListUnreconciled(ctx context.Context, f Filter, limit, offset int) ([]conto.UnreconciledEntry, int, error)
	ListImports(ctx context.Context, account conto.Account, uploadedBy *uuid.UUID, limit, offset int) ([]conto.ImportRecord, int, error)
	Totals(ctx context.Context, f Filter) (Totals, error)
	// EventRows returns every visible ledger row that carries an import key.
	EventRows(ctx context.Context, f Filter) ([]conto.Transaction, error)
}
