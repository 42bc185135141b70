package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

// TokenRepo persists refresh tokens. Only the SHA-256 hash of a token is
// stored; a row is active while revoked_at is NULL and expires_at is in the
// future.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const tokenColumns = "id,user_id,device_id,token_hash,family_id,issued_at,expires_at,revoked_at,replaced_by_id,created_at"

func scanToken(row interface{ Scan(...any) error }) (model.RefreshToken, error) {
	var (
		t          model.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.DeviceID, &t.TokenHash, &t.FamilyID,
		&t.IssuedAt, &t.ExpiresAt, &revokedAt, &replacedBy, &t.CreatedAt)
	if err != nil {
		return model.RefreshToken{}, notFound(err)
	}
	t.RevokedAt = nullTime(revokedAt)
	if replacedBy.Valid {
		id := uint64(replacedBy.Int64)
		t.ReplacedByID = &id
	}
	return t, nil
}

func insertTokenTx(ctx context.Context, tx *sql.Tx, t *model.RefreshToken) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, device_id, token_hash, family_id, issued_at, expires_at, created_at) VALUES (?,?,?,?,?,?,?)",
		t.UserID, t.DeviceID, t.TokenHash, t.FamilyID, t.IssuedAt, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if isContention(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// Issue stores a new session for (t.UserID, t.DeviceID). Any active session
// on the same device is revoked in the same transaction. The user row is
// locked first; when its token_version differs from version or the user is
// inactive the insert is abandoned with ErrUserChanged. A concurrent issue
// for the same device surfaces as ErrConflict.
func (r *TokenRepo) Issue(ctx context.Context, t *model.RefreshToken, version uint32, now time.Time) (int64, error) {
	var replaced int64
	err := inTx(ctx, r.DB, func(tx *sql.Tx) error {
		var (
			current uint32
			active  bool
		)
		err := tx.QueryRowContext(ctx,
			"SELECT token_version,is_active FROM users WHERE id=? FOR UPDATE", t.UserID).Scan(&current, &active)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserChanged
			}
			return err
		}
		if current != version || !active {
			return ErrUserChanged
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND device_id=? AND revoked_at IS NULL",
			now, t.UserID, t.DeviceID)
		if err != nil {
			if isContention(err) {
				return ErrConflict
			}
			return err
		}
		replaced, _ = res.RowsAffected()
		return insertTokenTx(ctx, tx, t)
	})
	if err != nil {
		return 0, err
	}
	return replaced, nil
}

// FindByHash returns the row for a token hash whatever its state.
func (r *TokenRepo) FindByHash(ctx context.Context, hash string) (model.RefreshToken, error) {
	return scanToken(r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE token_hash=? LIMIT 1", hash))
}

// Rotate revokes the parent and inserts child as its replacement. The
// parent update is conditional on the parent still being active, so of two
// concurrent rotations of the same parent exactly one succeeds; the other
// gets ErrNotActive and nothing is written.
func (r *TokenRepo) Rotate(ctx context.Context, parentID uint64, child *model.RefreshToken, now time.Time) error {
	return inTx(ctx, r.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked_at=? WHERE id=? AND revoked_at IS NULL AND expires_at>?",
			now, parentID, now)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ErrNotActive
		}
		if err := insertTokenTx(ctx, tx, child); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET replaced_by_id=? WHERE id=?", child.ID, parentID)
		return err
	})
}

// Revoke revokes one token. Revoking an already revoked token is not an
// error and reports zero.
func (r *TokenRepo) Revoke(ctx context.Context, id uint64, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE id=? AND revoked_at IS NULL", now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevokeAllForUser revokes every active token of the user and bumps the
// user's token version in one transaction. It returns the number of tokens
// revoked and the new version.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64, now time.Time) (int64, uint32, error) {
	var (
		revoked int64
		version uint32
	)
	err := inTx(ctx, r.DB, func(tx *sql.Tx) error {
		var err error
		if version, err = bumpVersionTx(ctx, tx, userID, now); err != nil {
			return err
		}
		revoked, err = revokeAllTx(ctx, tx, userID, now)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return revoked, version, nil
}

// ListActive returns the user's sessions that are neither revoked nor
// expired, newest first.
func (r *TokenRepo) ListActive(ctx context.Context, userID uint64, now time.Time) ([]model.RefreshToken, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE user_id=? AND revoked_at IS NULL AND expires_at>? ORDER BY issued_at DESC, id DESC",
		userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteExpired removes tokens that expired before the cutoff.
func (r *TokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at<?", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func revokeAllTx(ctx context.Context, tx *sql.Tx, userID uint64, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL", now, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
