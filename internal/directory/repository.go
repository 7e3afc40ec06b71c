package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fiacom/gestionale/internal/platform/db"
	"github.com/fiacom/gestionale/internal/shared"
)

// Repository reads the registry tables.
type Repository interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	// LinkJobCenter stores the resolved job center on a company. It never
	// replaces a consultant name that is already present.
	LinkJobCenter(ctx context.Context, companyID, centerID uuid.UUID, consultantName string) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const userColumns = `id, username, COALESCE(name, ''), COALESCE(organization, ''), role, active, profit_share_pct::float8, COALESCE(password_hash, '')`

// Snapshot loads companies, users and job centers in one repeatable-read view.
func (r *repository) Snapshot(ctx context.Context) (*Snapshot, error) {
	var (
		companies []Company
		users     []User
		centers   []JobCenter
	)
	err := db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		if companies, err = listCompanies(ctx, tx); err != nil {
			return err
		}
		if users, err = listUsers(ctx, tx); err != nil {
			return err
		}
		centers, err = listJobCenters(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("directory: snapshot: %w", err)
	}
	return NewSnapshot(companies, users, centers), nil
}

func listCompanies(ctx context.Context, tx pgx.Tx) ([]Company, error) {
	rows, err := tx.Query(ctx, `SELECT id, name, COALESCE(registration_numbers, '{}'), COALESCE(manager_name, ''),
		manager_user_id, owner_user_id, job_center_id, COALESCE(consultant_name, ''), active
		FROM companies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		var c Company
		var managerID, ownerID, centerID pgtype.UUID
		if err := rows.Scan(&c.ID, &c.Name, &c.RegistrationNumbers, &c.ManagerName, &managerID, &ownerID, &centerID, &c.ConsultantName, &c.Active); err != nil {
			return nil, err
		}
		c.ManagerUserID = db.UUIDPtr(managerID)
		c.OwnerUserID = db.UUIDPtr(ownerID)
		c.JobCenterID = db.UUIDPtr(centerID)
		out = append(out, c)
	}
	return out, rows.Err()
}

func listUsers(ctx context.Context, tx pgx.Tx) ([]User, error) {
	rows, err := tx.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = ""
		out = append(out, u)
	}
	return out, rows.Err()
}

func listJobCenters(ctx context.Context, tx pgx.Tx) ([]JobCenter, error) {
	rows, err := tx.Query(ctx, `SELECT id, name, COALESCE(organization, ''), user_id, commission_pct::float8, active
		FROM job_centers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobCenter
	for rows.Next() {
		var c JobCenter
		var userID pgtype.UUID
		var pct pgtype.Float8
		if err := rows.Scan(&c.ID, &c.Name, &c.Organization, &userID, &pct, &c.Active); err != nil {
			return nil, err
		}
		c.UserID = db.UUIDPtr(userID)
		c.CommissionPct = db.Float64Ptr(pct)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *repository) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
}

func (r *repository) getUser(ctx context.Context, query string, arg any) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var role string
	var pct pgtype.Float8
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Organization, &role, &u.Active, &pct, &u.PasswordHash); err != nil {
		return User{}, err
	}
	u.Role = shared.ParseRole(role)
	u.ProfitSharePct = db.Float64Ptr(pct)
	return u, nil
}

func (r *repository) LinkJobCenter(ctx context.Context, companyID, centerID uuid.UUID, consultantName string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE companies
		SET job_center_id = $2,
		    consultant_name = COALESCE(NULLIF(consultant_name, ''), NULLIF($3, ''))
		WHERE id = $1`, companyID, centerID, consultantName)
	if err != nil {
		return fmt.Errorf("directory: link job center: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
