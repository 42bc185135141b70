package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,email,password_hash,role,is_verified,is_active,token_version,created_at,updated_at"

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsVerified, &u.IsActive,
		&u.TokenVersion, &u.CreatedAt, &u.UpdatedAt)
	return u, notFound(err)
}

// NormalizeEmail is the canonical form under which emails are stored and
// looked up.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts u and fills in its ID and initial token version. The email
// is normalized first.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.TokenVersion == 0 {
		u.TokenVersion = 1
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, role, is_verified, is_active, token_version, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)",
		u.Email, u.PasswordHash, u.Role, u.IsVerified, u.IsActive, u.TokenVersion, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email)))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

func (r *UserRepo) MarkVerified(ctx context.Context, id uint64, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_verified=1, updated_at=? WHERE id=?", now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the hash, bumps the token version and revokes every
// active refresh token of the user in one transaction. It returns the number
// of sessions revoked and the new version.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string, now time.Time) (int64, uint32, error) {
	var (
		revoked int64
		version uint32
	)
	err := inTx(ctx, r.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE users SET password_hash=?, updated_at=? WHERE id=?", hash, now, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if version, err = bumpVersionTx(ctx, tx, id, now); err != nil {
			return err
		}
		revoked, err = revokeAllTx(ctx, tx, id, now)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return revoked, version, nil
}

// SetActive toggles is_active. Deactivation cascades in the same
// transaction: the token version is bumped, every active refresh token is
// revoked and every open one-time code is invalidated.
func (r *UserRepo) SetActive(ctx context.Context, id uint64, active bool, now time.Time) (int64, error) {
	var revoked int64
	err := inTx(ctx, r.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE users SET is_active=?, updated_at=? WHERE id=?", active, now, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if active {
			return nil
		}
		if _, err := bumpVersionTx(ctx, tx, id, now); err != nil {
			return err
		}
		if revoked, err = revokeAllTx(ctx, tx, id, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE otp_codes SET invalidated_at=? WHERE user_id=? AND consumed_at IS NULL AND invalidated_at IS NULL",
			now, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

func (r *UserRepo) SetRole(ctx context.Context, id uint64, role model.Role, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET role=?, updated_at=? WHERE id=?", role, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// bumpVersionTx raises the user's watermark by one and returns the new
// value. Every access token issued before the call stops validating.
func bumpVersionTx(ctx context.Context, tx *sql.Tx, userID uint64, now time.Time) (uint32, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE users SET token_version=token_version+1, updated_at=? WHERE id=?", now, userID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var v uint32
	if err := tx.QueryRowContext(ctx, "SELECT token_version FROM users WHERE id=?", userID).Scan(&v); err != nil {
		return 0, notFound(err)
	}
	return v, nil
}
