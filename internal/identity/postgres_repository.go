package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores principals in per-role tables. Cross-role email
// uniqueness is enforced by the email_registry triggers; the resulting unique
// violation surfaces here as ErrConflict.
type PostgresRepository struct {
	pool db
}

// NewPostgresRepository initializes a repo over a pgx pool.
func NewPostgresRepository(pool db) *PostgresRepository {
	if pool == nil {
		panic("identity: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, p *Principal) (*Principal, error) {
	cp := *p
	cp.Email = NormalizeEmail(cp.Email)
	cp.UHID = NormalizeUHID(cp.UHID)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Role == RoleHeadNurse {
		cp.Role = RoleNurse
		cp.IsHead = true
	}
	if cp.Role == RoleClinic {
		cp.ClinicID = cp.ID
	}

	var (
		query string
		args  []any
	)
	switch cp.Role {
	case RoleClinic:
		query = `
			INSERT INTO clinics (id, name, email, password_hash, contact_phone, address, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`
		args = []any{cp.ID, cp.FullName, cp.Email, cp.PasswordHash, cp.ContactPhone, cp.Address, cp.Active}
	case RoleDoctor:
		query = `
			INSERT INTO doctors (id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, specialty)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at
		`
		args = []any{cp.ID, cp.FullName, cp.UHID, cp.Email, cp.PasswordHash, cp.ClinicID, cp.Active, cp.ProfileImage, cp.Specialty}
	case RoleNurse:
		query = `
			INSERT INTO nurses (id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, departments, shift, is_head)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at
		`
		args = []any{cp.ID, cp.FullName, cp.UHID, cp.Email, cp.PasswordHash, cp.ClinicID, cp.Active, cp.ProfileImage, cp.Departments, string(cp.Shift), cp.IsHead}
	case RolePharmacist:
		query = `
			INSERT INTO pharmacists (id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, specialization)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at
		`
		args = []any{cp.ID, cp.FullName, cp.UHID, cp.Email, cp.PasswordHash, cp.ClinicID, cp.Active, cp.ProfileImage, cp.Specialization}
	default:
		return nil, ErrUnknownRole
	}

	var createdAt time.Time
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&createdAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("identity: insert %s failed: %w", cp.Role, err)
	}
	cp.CreatedAt = createdAt
	return &cp, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, role Role, id string) (*Principal, error) {
	return r.findOne(ctx, storageRole(role), "id = $1", id)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, role Role, email string) (*Principal, error) {
	return r.findOne(ctx, storageRole(role), "email = $1", NormalizeEmail(email))
}

func (r *PostgresRepository) FindByEmailAnyRole(ctx context.Context, email string) (*Principal, error) {
	email = NormalizeEmail(email)
	for _, role := range []Role{RoleClinic, RoleDoctor, RoleNurse, RolePharmacist} {
		p, err := r.findOne(ctx, role, "email = $1", email)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (r *PostgresRepository) ListByClinic(ctx context.Context, role Role, clinicID string) ([]*Principal, error) {
	role = storageRole(role)
	var query string
	switch role {
	case RoleDoctor:
		query = `
			SELECT id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, specialty, created_at
			FROM doctors WHERE clinic_id = $1 ORDER BY created_at
		`
	case RoleNurse:
		query = `
			SELECT id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, departments, shift, is_head, created_at
			FROM nurses WHERE clinic_id = $1 ORDER BY created_at
		`
	case RolePharmacist:
		query = `
			SELECT id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, specialization, created_at
			FROM pharmacists WHERE clinic_id = $1 ORDER BY created_at
		`
	default:
		return nil, ErrUnknownRole
	}

	rows, err := r.pool.Query(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("identity: list %s failed: %w", role, err)
	}
	defer rows.Close()

	var out []*Principal
	for rows.Next() {
		p := Principal{Role: role, ClinicID: clinicID}
		switch role {
		case RoleDoctor:
			err = rows.Scan(&p.ID, &p.FullName, &p.UHID, &p.Email, &p.PasswordHash, &p.ClinicID, &p.Active, &p.ProfileImage, &p.Specialty, &p.CreatedAt)
		case RoleNurse:
			var shift string
			err = rows.Scan(&p.ID, &p.FullName, &p.UHID, &p.Email, &p.PasswordHash, &p.ClinicID, &p.Active, &p.ProfileImage, &p.Departments, &shift, &p.IsHead, &p.CreatedAt)
			p.Shift = Shift(shift)
		case RolePharmacist:
			err = rows.Scan(&p.ID, &p.FullName, &p.UHID, &p.Email, &p.PasswordHash, &p.ClinicID, &p.Active, &p.ProfileImage, &p.Specialization, &p.CreatedAt)
		}
		if err != nil {
			return nil, fmt.Errorf("identity: scan %s failed: %w", role, err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: list %s failed: %w", role, err)
	}
	return out, nil
}

func (r *PostgresRepository) SetActive(ctx context.Context, role Role, id string, active bool) (*Principal, error) {
	table, err := tableFor(storageRole(role))
	if err != nil {
		return nil, err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET active = $1 WHERE id = $2", table), active, id)
	if err != nil {
		return nil, fmt.Errorf("identity: set active failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.FindByID(ctx, role, id)
}

func (r *PostgresRepository) UpdateCredential(ctx context.Context, role Role, id string, newHash string) error {
	table, err := tableFor(storageRole(role))
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET password_hash = $1 WHERE id = $2", table), newHash, id)
	if err != nil {
		return fmt.Errorf("identity: update credential failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateCredentialByEmail(ctx context.Context, email string, newHash string) error {
	p, err := r.FindByEmailAnyRole(ctx, email)
	if err != nil {
		return err
	}
	return r.UpdateCredential(ctx, p.Role, p.ID, newHash)
}

func tableFor(role Role) (string, error) {
	switch role {
	case RoleClinic:
		return "clinics", nil
	case RoleDoctor:
		return "doctors", nil
	case RoleNurse:
		return "nurses", nil
	case RolePharmacist:
		return "pharmacists", nil
	}
	return "", ErrUnknownRole
}

func (r *PostgresRepository) findOne(ctx context.Context, role Role, where string, arg any) (*Principal, error) {
	p := Principal{Role: role}
	var err error
	switch role {
	case RoleClinic:
		query := `
			SELECT id, name, email, password_hash, contact_phone, address, active, created_at
			FROM clinics WHERE ` + where
		err = r.pool.QueryRow(ctx, query, arg).Scan(
			&p.ID, &p.FullName, &p.Email, &p.PasswordHash, &p.ContactPhone, &p.Address, &p.Active, &p.CreatedAt,
		)
		p.ClinicID = p.ID
	case RoleDoctor:
		query := `
			SELECT id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, specialty, created_at
			FROM doctors WHERE ` + where
		err = r.pool.QueryRow(ctx, query, arg).Scan(
			&p.ID, &p.FullName, &p.UHID, &p.Email, &p.PasswordHash, &p.ClinicID, &p.Active, &p.ProfileImage, &p.Specialty, &p.CreatedAt,
		)
	case RoleNurse:
		var shift string
		query := `
			SELECT id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, departments, shift, is_head, created_at
			FROM nurses WHERE ` + where
		err = r.pool.QueryRow(ctx, query, arg).Scan(
			&p.ID, &p.FullName, &p.UHID, &p.Email, &p.PasswordHash, &p.ClinicID, &p.Active, &p.ProfileImage, &p.Departments, &shift, &p.IsHead, &p.CreatedAt,
		)
		p.Shift = Shift(shift)
	case RolePharmacist:
		query := `
			SELECT id, full_name, uhid, email, password_hash, clinic_id, active, profile_image, specialization, created_at
			FROM pharmacists WHERE ` + where
		err = r.pool.QueryRow(ctx, query, arg).Scan(
			&p.ID, &p.FullName, &p.UHID, &p.Email, &p.PasswordHash, &p.ClinicID, &p.Active, &p.ProfileImage, &p.Specialization, &p.CreatedAt,
		)
	default:
		return nil, ErrUnknownRole
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("identity: select %s failed: %w", role, err)
	}
	return &p, nil
}

var _ Repository = (*PostgresRepository)(nil)
