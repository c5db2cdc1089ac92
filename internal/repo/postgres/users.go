package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/geocoder89/authcore/internal/rbac"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, name, phone, role, permissions, status,
	password_hash, salt, two_factor_enabled, two_factor_secret,
	login_attempts, locked_until, last_login_at, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

// observe works with a nil prom; spans are recorded either way.
func (r *UsersRepo) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return r.prom.ObserveDB(ctx, op, fn)
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.observe(ctx, "users.get_by_email", func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
		var err error
		u, err = scanUser(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User

	err := r.observe(ctx, "users.get_by_id", func(ctx context.Context) error {
		row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
		var err error
		u, err = scanUser(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

// Save upserts on id. The unique index on email turns a clash into
// user.ErrEmailAlreadyTaken.
func (r *UsersRepo) Save(ctx context.Context, u user.User) error {
	err := r.observe(ctx, "users.save", func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			status = EXCLUDED.status,
			password_hash = EXCLUDED.password_hash,
			salt = EXCLUDED.salt,
			two_factor_enabled = EXCLUDED.two_factor_enabled,
			two_factor_secret = EXCLUDED.two_factor_secret,
			login_attempts = EXCLUDED.login_attempts,
			locked_until = EXCLUDED.locked_until,
			last_login_at = EXCLUDED.last_login_at,
			updated_at = EXCLUDED.updated_at`,
			u.ID, u.Email, u.Name, u.Phone, string(u.Role), rbac.Strings(u.Permissions), string(u.Status),
			u.PasswordHash, u.Salt, u.TwoFactorEnabled, u.TwoFactorSecret,
			u.LoginAttempts, u.LockedUntil, u.LastLoginAt, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return user.ErrEmailAlreadyTaken
		}
		return err
	}
	return nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var affected int64

	err := r.observe(ctx, "users.delete", func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) ListAll(ctx context.Context) ([]user.User, error) {
	var out []user.User

	err := r.observe(ctx, "users.list", func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanUser(row pgx.Row) (user.User, error) {
	var (
		u     user.User
		role  string
		perms []string
		st    string
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.Phone,
		&role,
		&perms,
		&st,
		&u.PasswordHash,
		&u.Salt,
		&u.TwoFactorEnabled,
		&u.TwoFactorSecret,
		&u.LoginAttempts,
		&u.LockedUntil,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return user.User{}, err
	}

	u.Role = rbac.Role(role)
	u.Permissions = rbac.FromStrings(perms)
	u.Status = user.Status(st)
	return u, nil
}
