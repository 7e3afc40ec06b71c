// Package conto holds the types shared by the reconciliation and
// commission-distribution engine: ledger entries, unreconciled entries,
// import records and the per-row error taxonomy.
package conto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/shared"
)

// Account identifies one of the two parallel ledgers.
type Account string

const (
	AccountProselitismo Account = "proselitismo"
	AccountServizi      Account = "servizi"
)

// Accounts lists every ledger in routing order.
var Accounts = []Account{AccountProselitismo, AccountServizi}

// ParseAccount validates a ledger name.
func ParseAccount(raw string) (Account, error) {
	acc := Account(strings.ToLower(strings.TrimSpace(raw)))
	if !acc.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, raw)
	}
	return acc, nil
}

// Valid reports whether the account is a known ledger.
func (a Account) Valid() bool {
	return a == AccountProselitismo || a == AccountServizi
}

// Direction of a ledger entry.
type Direction string

const (
	DirectionIn  Direction = "entrata"
	DirectionOut Direction = "uscita"
)

// Source records how an entry entered the ledger.
type Source string

const (
	SourceManual Source = "manuale"
	SourceXLSX   Source = "xlsx"
)

// Ledger categories identify which party a generated row belongs to.
const (
	CategoryHouse   = "quota_fiacom"
	CategoryManager = "quota_responsabile"
	CategoryCenter  = "quota_sportello"
)

const (
	StatusRecorded     = "registrata"
	StatusUnreconciled = "da_riconciliare"
)

// Transaction is a ledger entry. Entries are immutable once written.
type Transaction struct {
	ID          uuid.UUID        `json:"id"`
	Account     Account          `json:"account"`
	Amount      decimal.Decimal  `json:"amount"`
	RawAmount   *decimal.Decimal `json:"rawAmount,omitempty"`
	Direction   Direction        `json:"direction"`
	Status      string           `json:"status"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	OwnerUserID uuid.UUID        `json:"ownerUserId"`
	CompanyID   *uuid.UUID       `json:"companyId,omitempty"`
	CompanyName string           `json:"companyName,omitempty"`
	Source      Source           `json:"source"`
	ImportKey   string           `json:"importKey,omitempty"`
	ImportID    *uuid.UUID       `json:"importId,omitempty"`
	Date        time.Time        `json:"date"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// UnreconciledEntry tracks a reported amount with no base to split.
type UnreconciledEntry struct {
	ID                 uuid.UUID       `json:"id"`
	Account            Account         `json:"account"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status"`
	OwnerUserID        uuid.UUID       `json:"ownerUserId"`
	CompanyID          *uuid.UUID      `json:"companyId,omitempty"`
	CompanyName        string          `json:"companyName"`
	RegistrationNumber string          `json:"registrationNumber,omitempty"`
	Month              *int            `json:"month,omitempty"`
	Year               *int            `json:"year,omitempty"`
	Source             Source          `json:"source"`
	ImportKey          string          `json:"importKey,omitempty"`
	ImportID           *uuid.UUID      `json:"importId,omitempty"`
	Date               time.Time       `json:"date"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// ImportRecord is written once per distinct uploaded file.
type ImportRecord struct {
	ID         uuid.UUID `json:"id"`
	Account    Account   `json:"account"`
	FileHash   string    `json:"fileHash"`
	UploadedBy uuid.UUID `json:"uploadedBy"`
	FileName   string    `json:"fileName"`
	RowCount   int       `json:"rowCount"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// CanIngest reports whether a role may upload spreadsheets or create
// commission rows by hand.
func CanIngest(role shared.Role) bool {
	return role.IsAdmin()
}

var (
	ErrInvalidAccount   = errors.New("conto: invalid account")
	ErrForbidden        = errors.New("conto: role cannot access this operation")
	ErrUnreadableFile   = errors.New("conto: unreadable spreadsheet")
	ErrNoDataRows       = errors.New("conto: spreadsheet has no data rows")
	ErrAlreadyImported  = errors.New("conto: file already imported")
	ErrInvalidRequest   = errors.New("conto: invalid request")
	ErrManagerNotFound  = errors.New("conto: territorial manager not found or inactive")
	ErrJobCenterMissing = errors.New("conto: job center not found or inactive")
)
