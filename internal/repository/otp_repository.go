package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

// OTPRepo stores one-time codes. At most one code per (user, purpose) is
// open at a time: issuing a new one invalidates the previous ones.
type OTPRepo struct{ DB *sql.DB }

func NewOTPRepo(db *sql.DB) *OTPRepo { return &OTPRepo{DB: db} }

const otpColumns = "id,user_id,purpose,code_hash,expires_at,attempts,consumed_at,invalidated_at,created_at"

func scanOTP(row interface{ Scan(...any) error }) (model.OneTimeCode, error) {
	var (
		o           model.OneTimeCode
		consumed    sql.NullTime
		invalidated sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Purpose, &o.CodeHash, &o.ExpiresAt, &o.Attempts,
		&consumed, &invalidated, &o.CreatedAt)
	if err != nil {
		return model.OneTimeCode{}, notFound(err)
	}
	o.ConsumedAt = nullTime(consumed)
	o.InvalidatedAt = nullTime(invalidated)
	return o, nil
}

// Replace invalidates every open code of (code.UserID, code.Purpose) and
// inserts code in one transaction.
func (r *OTPRepo) Replace(ctx context.Context, code *model.OneTimeCode, now time.Time) error {
	return inTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE otp_codes SET invalidated_at=? WHERE user_id=? AND purpose=? AND consumed_at IS NULL AND invalidated_at IS NULL",
			now, code.UserID, code.Purpose); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO otp_codes (user_id, purpose, code_hash, expires_at, attempts, created_at) VALUES (?,?,?,?,0,?)",
			code.UserID, code.Purpose, code.CodeHash, code.ExpiresAt, code.CreatedAt)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		code.ID = uint64(id)
		code.Attempts = 0
		return nil
	})
}

// Latest returns the newest code of (userID, purpose) that has not been
// invalidated. It may already be consumed or expired.
func (r *OTPRepo) Latest(ctx context.Context, userID uint64, purpose model.OTPPurpose) (model.OneTimeCode, error) {
	return scanOTP(r.DB.QueryRowContext(ctx,
		"SELECT "+otpColumns+" FROM otp_codes WHERE user_id=? AND purpose=? AND invalidated_at IS NULL ORDER BY id DESC LIMIT 1",
		userID, purpose))
}

func (r *OTPRepo) GetByID(ctx context.Context, id uint64) (model.OneTimeCode, error) {
	return scanOTP(r.DB.QueryRowContext(ctx,
		"SELECT "+otpColumns+" FROM otp_codes WHERE id=? LIMIT 1", id))
}

// IncrementAttempts counts one verification attempt. The update only
// applies while the code is open and below max attempts; otherwise
// ErrNotActive is returned and nothing changes.
func (r *OTPRepo) IncrementAttempts(ctx context.Context, id uint64, max int) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE otp_codes SET attempts=attempts+1 WHERE id=? AND attempts<? AND consumed_at IS NULL AND invalidated_at IS NULL",
		id, max)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrNotActive
	}
	return nil
}

// Consume marks the code used. Only the first caller succeeds; later ones
// get ErrNotActive.
func (r *OTPRepo) Consume(ctx context.Context, id uint64, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE otp_codes SET consumed_at=? WHERE id=? AND consumed_at IS NULL AND invalidated_at IS NULL",
		now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrNotActive
	}
	return nil
}

// DeleteExpired removes codes that expired before the cutoff.
func (r *OTPRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM otp_codes WHERE expires_at<?", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
