package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/platform/db"
	"github.com/fiacom/gestionale/internal/shared"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *repository) InsertTransaction(ctx context.Context, tx conto.Transaction) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO conto_transactions
		(id, account, amount, raw_amount, direction, status, description, category, owner_user_id,
		 company_id, company_name, source, import_key, import_id, effective_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14, $15, $16)`,
		tx.ID, string(tx.Account), tx.Amount, tx.RawAmount, string(tx.Direction), tx.Status, tx.Description,
		tx.Category, tx.OwnerUserID, db.NullUUID(tx.CompanyID), tx.CompanyName, string(tx.Source),
		tx.ImportKey, db.NullUUID(tx.ImportID), tx.Date, tx.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("store: insert transaction: %w", err)
	}
	return nil
}

func (r *repository) InsertUnreconciled(ctx context.Context, e conto.UnreconciledEntry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO conto_unreconciled
		(id, account, amount, status, owner_user_id, company_id, company_name, registration_number,
		 month, year, source, import_key, import_id, effective_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15)`,
		e.ID, string(e.Account), e.Amount, e.Status, e.OwnerUserID, db.NullUUID(e.CompanyID), e.CompanyName,
		e.RegistrationNumber, e.Month, e.Year, string(e.Source), e.ImportKey, db.NullUUID(e.ImportID),
		e.Date, e.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("store: insert unreconciled: %w", err)
	}
	return nil
}

func (r *repository) InsertImport(ctx context.Context, rec conto.ImportRecord) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO conto_imports
		(id, account, file_hash, uploaded_by, file_name, row_count, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, string(rec.Account), rec.FileHash, rec.UploadedBy, rec.FileName, rec.RowCount, rec.UploadedAt)
	if isUniqueViolation(err) {
		return conto.ErrAlreadyImported
	}
	if err != nil {
		return fmt.Errorf("store: insert import: %w", err)
	}
	return nil
}

const importColumns = `id, account, file_hash, uploaded_by, file_name, row_count, uploaded_at`

func scanImport(row pgx.Row) (conto.ImportRecord, error) {
	var rec conto.ImportRecord
	var account string
	err := row.Scan(&rec.ID, &account, &rec.FileHash, &rec.UploadedBy, &rec.FileName, &rec.RowCount, &rec.UploadedAt)
	rec.Account = conto.Account(account)
	return rec, err
}

func (r *repository) FindImport(ctx context.Context, account conto.Account, fileHash string) (conto.ImportRecord, error) {
	rec, err := scanImport(r.pool.QueryRow(ctx, `SELECT `+importColumns+` FROM conto_imports
		WHERE account = $1 AND file_hash = $2`, string(account), fileHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return conto.ImportRecord{}, shared.ErrNotFound
	}
	if err != nil {
		return conto.ImportRecord{}, fmt.Errorf("store: find import: %w", err)
	}
	return rec, nil
}

func (r *repository) ExistingKeys(ctx context.Context, account conto.Account, keys []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT import_key FROM conto_transactions WHERE account = $1 AND import_key = ANY($2::text[])
		UNION
		SELECT import_key FROM conto_unreconciled WHERE account = $1 AND import_key = ANY($2::text[])`,
		string(account), keys)
	if err != nil {
		return nil, fmt.Errorf("store: existing keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out[k] = struct{}{}
	}
	return out, rows.Err()
}

// where builds a dynamic predicate with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// scoped renders the account, visibility, date and text predicates.
// textColumns are matched with ILIKE against Filter.Query.
func scoped(f Filter, textColumns ...string) *where {
	w := &where{}
	w.add("account = " + w.arg(string(f.Account)))
	if !f.Scope.Global {
		w.add("(company_id = ANY(" + w.arg(db.UUIDStrings(f.Scope.CompanyIDs)) + "::uuid[]) OR owner_user_id = " + w.arg(f.Scope.OwnerUserID) + ")")
	}
	if f.From != nil {
		w.add("effective_date >= " + w.arg(*f.From))
	}
	if f.To != nil {
		w.add("effective_date <= " + w.arg(*f.To))
	}
	if q := strings.TrimSpace(f.Query); q != "" && len(textColumns) > 0 {
		p := w.arg("%" + q + "%")
		parts := make([]string, 0, len(textColumns))
		for _, c := range textColumns {
			parts = append(parts, c+" ILIKE "+p)
		}
		w.add("(" + strings.Join(parts, " OR ") + ")")
	}
	return w
}

const transactionColumns = `id, account, amount, raw_amount, direction, status, description, category,
	owner_user_id, company_id, COALESCE(company_name, ''), source, COALESCE(import_key, ''), import_id,
	effective_date, created_at`

func scanTransaction(row pgx.Row) (conto.Transaction, error) {
	var (
		t                          conto.Transaction
		raw                        decimal.NullDecimal
		account, direction, source string
		companyID, importID        pgtype.UUID
	)
	if err := row.Scan(&t.ID, &account, &t.Amount, &raw, &direction, &t.Status, &t.Description, &t.Category,
		&t.OwnerUserID, &companyID, &t.CompanyName, &source, &t.ImportKey, &importID, &t.Date, &t.CreatedAt); err != nil {
		return conto.Transaction{}, err
	}
	t.Account = conto.Account(account)
	t.Direction = conto.Direction(direction)
	t.Source = conto.Source(source)
	if raw.Valid {
		v := raw.Decimal
		t.RawAmount = &v
	}
	t.CompanyID = db.UUIDPtr(companyID)
	t.ImportID = db.UUIDPtr(importID)
	return t, nil
}

func (r *repository) ListTransactions(ctx context.Context, f Filter, limit, offset int) ([]conto.Transaction, int, error) {
	w := scoped(f, "description", "company_name")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conto_transactions`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count transactions: %w", err)
	}
	query := `SELECT ` + transactionColumns + ` FROM conto_transactions` + w.String() +
		` ORDER BY effective_date DESC, created_at DESC, category LIMIT ` + w.arg(limit) + ` OFFSET ` + w.arg(offset)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list transactions: %w", err)
	}
	defer rows.Close()
	var out []conto.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *repository) EventRows(ctx context.Context, f Filter) ([]conto.Transaction, error) {
	w := scoped(f, "description", "company_name")
	w.add("import_key IS NOT NULL")
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM conto_transactions`+w.String()+
		` ORDER BY import_key, category`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: event rows: %w", err)
	}
	defer rows.Close()
	var out []conto.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) ListUnreconciled(ctx context.Context, f Filter, limit, offset int) ([]conto.UnreconciledEntry, int, error) {
	w := scoped(f, "company_name", "registration_number")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conto_unreconciled`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count unreconciled: %w", err)
	}
	query := `SELECT id, account, amount, status, owner_user_id, company_id, company_name,
		COALESCE(registration_number, ''), month, year, source, COALESCE(import_key, ''), import_id,
		effective_date, created_at
		FROM conto_unreconciled` + w.String() +
		` ORDER BY effective_date DESC, created_at DESC LIMIT ` + w.arg(limit) + ` OFFSET ` + w.arg(offset)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list unreconciled: %w", err)
	}
	defer rows.Close()
	var out []conto.UnreconciledEntry
	for rows.Next() {
		var (
			e                   conto.UnreconciledEntry
			account, source     string
			companyID, importID pgtype.UUID
		)
		if err := rows.Scan(&e.ID, &account, &e.Amount, &e.Status, &e.OwnerUserID, &companyID, &e.CompanyName,
			&e.RegistrationNumber, &e.Month, &e.Year, &source, &e.ImportKey, &importID, &e.Date, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Account = conto.Account(account)
		e.Source = conto.Source(source)
		e.CompanyID = db.UUIDPtr(companyID)
		e.ImportID = db.UUIDPtr(importID)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *repository) ListImports(ctx context.Context, account conto.Account, uploadedBy *uuid.UUID, limit, offset int) ([]conto.ImportRecord, int, error) {
	w := &where{}
	w.add("account = " + w.arg(string(account)))
	if uploadedBy != nil {
		w.add("uploaded_by = " + w.arg(*uploadedBy))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conto_imports`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count imports: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+importColumns+` FROM conto_imports`+w.String()+
		` ORDER BY uploaded_at DESC LIMIT `+w.arg(limit)+` OFFSET `+w.arg(offset), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list imports: %w", err)
	}
	defer rows.Close()
	var out []conto.ImportRecord
	for rows.Next() {
		rec, err := scanImport(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (r *repository) Totals(ctx context.Context, f Filter) (Totals, error) {
	var t Totals
	w := scoped(f, "description", "company_name")
	err := r.pool.QueryRow(ctx, `SELECT
		COALESCE(SUM(amount) FILTER (WHERE direction = 'entrata'), 0),
		COALESCE(SUM(amount) FILTER (WHERE direction = 'uscita'), 0),
		COUNT(*)
		FROM conto_transactions`+w.String(), w.args...).Scan(&t.Incoming, &t.Outgoing, &t.TransactionCount)
	if err != nil {
		return Totals{}, fmt.Errorf("store: transaction totals: %w", err)
	}
	u := scoped(f, "company_name", "registration_number")
	err = r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM conto_unreconciled`+u.String(), u.args...).
		Scan(&t.Unreconciled, &t.UnreconciledCount)
	if err != nil {
		return Totals{}, fmt.Errorf("store: unreconciled totals: %w", err)
	}
	return t, nil
}
