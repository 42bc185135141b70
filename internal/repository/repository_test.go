package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var userCols = []string{"id", "email", "password_hash", "role", "is_verified", "is_active", "token_version", "created_at", "updated_at"}

func TestUserCreateNormalizesEmail(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("INSERT INTO users")).
		WithArgs("alice@example.com", "hash", "ordinary", false, true, 1, testNow, testNow).
		WillReturnResult(sqlmock.NewResult(11, 1))

	u := &model.User{Email: "  Alice@Example.COM ", PasswordHash: "hash", Role: model.RoleOrdinary,
		IsActive: true, CreatedAt: testNow, UpdatedAt: testNow}
	require.NoError(t, NewUserRepo(db).Create(context.Background(), u))
	assert.Equal(t, uint64(11), u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, uint32(1), u.TokenVersion)
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := NewUserRepo(db).Create(context.Background(), &model.User{Email: "a@b.c", Role: model.RoleOrdinary})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestUserGetByEmail(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("SELECT "+userColumns+" FROM users WHERE email=?")).
		WithArgs("bob@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(3, "bob@example.com", "h", "staff", 1, 1, 4, testNow, testNow))

	u, err := NewUserRepo(db).GetByEmail(context.Background(), "BOB@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), u.ID)
	assert.Equal(t, model.RoleStaff, u.Role)
	assert.True(t, u.IsVerified)
	assert.Equal(t, uint32(4), u.TokenVersion)
}

func TestUserGetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM users WHERE id=?")).WithArgs(99).WillReturnError(sql.ErrNoRows)

	_, err := NewUserRepo(db).GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserUpdatePasswordRevokesAndBumps(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET password_hash=?")).
		WithArgs("newhash", testNow, 5).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE users SET token_version=token_version+1")).
		WithArgs(testNow, 5).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT token_version FROM users WHERE id=?")).
		WithArgs(5).WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(3))
	mock.ExpectExec(q("UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL")).
		WithArgs(testNow, 5).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	revoked, version, err := NewUserRepo(db).UpdatePassword(context.Background(), 5, "newhash", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)
	assert.Equal(t, uint32(3), version)
}

func TestUserUpdatePasswordUnknownUserRollsBack(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET password_hash=?")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err := NewUserRepo(db).UpdatePassword(context.Background(), 5, "h", testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserDeactivateCascades(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET is_active=?")).
		WithArgs(false, testNow, 8).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE users SET token_version=token_version+1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT token_version")).
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(2))
	mock.ExpectExec(q("UPDATE refresh_tokens SET revoked_at=?")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q("UPDATE otp_codes SET invalidated_at=? WHERE user_id=?")).
		WithArgs(testNow, 8).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	revoked, err := NewUserRepo(db).SetActive(context.Background(), 8, false, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), revoked)
}

func TestUserActivateDoesNotCascade(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET is_active=?")).
		WithArgs(true, testNow, 8).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	revoked, err := NewUserRepo(db).SetActive(context.Background(), 8, true, testNow)
	require.NoError(t, err)
	assert.Zero(t, revoked)
}

var tokenCols = []string{"id", "user_id", "device_id", "token_hash", "family_id", "issued_at", "expires_at", "revoked_at", "replaced_by_id", "created_at"}

func newToken() *model.RefreshToken {
	return &model.RefreshToken{
		UserID: 1, DeviceID: "phone", TokenHash: "hash", FamilyID: "fam",
		IssuedAt: testNow, ExpiresAt: testNow.Add(time.Hour), CreatedAt: testNow,
	}
}

func expectUserLock(mock sqlmock.Sqlmock, version uint32, active bool) {
	mock.ExpectQuery(q("SELECT token_version,is_active FROM users WHERE id=? FOR UPDATE")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"token_version", "is_active"}).AddRow(version, active))
}

func TestTokenIssueRevokesDeviceThenInserts(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectUserLock(mock, 3, true)
	mock.ExpectExec(q("UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND device_id=? AND revoked_at IS NULL")).
		WithArgs(testNow, 1, "phone").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO refresh_tokens")).
		WithArgs(1, "phone", "hash", "fam", testNow, testNow.Add(time.Hour), testNow).
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectCommit()

	tok := newToken()
	replaced, err := NewTokenRepo(db).Issue(context.Background(), tok, 3, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), replaced)
	assert.Equal(t, uint64(21), tok.ID)
}

func TestTokenIssueConcurrentDeviceConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	expectUserLock(mock, 1, true)
	mock.ExpectExec(q("UPDATE refresh_tokens SET revoked_at=?")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO refresh_tokens")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1:phone' for key 'uq_refresh_tokens_active'"})
	mock.ExpectRollback()

	_, err := NewTokenRepo(db).Issue(context.Background(), newToken(), 1, testNow)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTokenIssueAbortsWhenUserChanged(t *testing.T) {
	cases := []struct {
		name    string
		version uint32
		active  bool
	}{
		{"watermark bumped", 2, true},
		{"suspended", 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectBegin()
			expectUserLock(mock, tc.version, tc.active)
			mock.ExpectRollback()

			_, err := NewTokenRepo(db).Issue(context.Background(), newToken(), 1, testNow)
			assert.ErrorIs(t, err, ErrUserChanged)
		})
	}
}

func TestTokenRotateSingleWinner(t *testing.T) {
	db, mock := newMock(t)
	// winner
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE refresh_tokens SET revoked_at=? WHERE id=? AND revoked_at IS NULL AND expires_at>?")).
		WithArgs(testNow, 4, testNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO refresh_tokens")).WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(q("UPDATE refresh_tokens SET replaced_by_id=? WHERE id=?")).
		WithArgs(5, 4).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// loser
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE refresh_tokens SET revoked_at=? WHERE id=?")).
		WithArgs(testNow, 4, testNow).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewTokenRepo(db)
	child := newToken()
	require.NoError(t, repo.Rotate(context.Background(), 4, child, testNow))
	assert.Equal(t, uint64(5), child.ID)

	err := repo.Rotate(context.Background(), 4, newToken(), testNow)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestTokenFindByHashScansNullables(t *testing.T) {
	db, mock := newMock(t)
	revokedAt := testNow.Add(-time.Minute)
	mock.ExpectQuery(q("FROM refresh_tokens WHERE token_hash=?")).WithArgs("h").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow(4, 1, "phone", "h", "fam", testNow.Add(-time.Hour), testNow.Add(time.Hour), revokedAt, 5, testNow))

	tok, err := NewTokenRepo(db).FindByHash(context.Background(), "h")
	require.NoError(t, err)
	require.NotNil(t, tok.RevokedAt)
	require.NotNil(t, tok.ReplacedByID)
	assert.Equal(t, uint64(5), *tok.ReplacedByID)
	assert.True(t, tok.Rotated())
	assert.False(t, tok.ActiveAt(testNow))
}

func TestTokenRevokeAllBumpsVersion(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE users SET token_version=token_version+1")).
		WithArgs(testNow, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT token_version")).
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(9))
	mock.ExpectExec(q("UPDATE refresh_tokens SET revoked_at=? WHERE user_id=?")).
		WithArgs(testNow, 1).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	n, v, err := NewTokenRepo(db).RevokeAllForUser(context.Background(), 1, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, uint32(9), v)
}

func TestTokenListActive(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("WHERE user_id=? AND revoked_at IS NULL AND expires_at>?")).
		WithArgs(1, testNow).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow(7, 1, "laptop", "h2", "f2", testNow, testNow.Add(time.Hour), nil, nil, testNow).
			AddRow(6, 1, "phone", "h1", "f1", testNow.Add(-time.Hour), testNow.Add(time.Hour), nil, nil, testNow))

	list, err := NewTokenRepo(db).ListActive(context.Background(), 1, testNow)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "laptop", list[0].DeviceID)
	assert.Nil(t, list[1].RevokedAt)
}

func TestTokenDeleteExpired(t *testing.T) {
	db, mock := newMock(t)
	cutoff := testNow.Add(-30 * 24 * time.Hour)
	mock.ExpectExec(q("DELETE FROM refresh_tokens WHERE expires_at<?")).
		WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := NewTokenRepo(db).DeleteExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestOTPReplaceInvalidatesPrevious(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE otp_codes SET invalidated_at=? WHERE user_id=? AND purpose=?")).
		WithArgs(testNow, 1, "email_verify").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO otp_codes")).
		WithArgs(1, "email_verify", "chash", testNow.Add(10*time.Minute), testNow).
		WillReturnResult(sqlmock.NewResult(30, 1))
	mock.ExpectCommit()

	code := &model.OneTimeCode{UserID: 1, Purpose: model.PurposeEmailVerify, CodeHash: "chash",
		ExpiresAt: testNow.Add(10 * time.Minute), CreatedAt: testNow}
	require.NoError(t, NewOTPRepo(db).Replace(context.Background(), code, testNow))
	assert.Equal(t, uint64(30), code.ID)
}

func TestOTPLatestNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM otp_codes WHERE user_id=? AND purpose=? AND invalidated_at IS NULL ORDER BY id DESC")).
		WithArgs(1, "password_reset").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewOTPRepo(db).Latest(context.Background(), 1, model.PurposePasswordReset)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOTPIncrementAttemptsGuard(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("UPDATE otp_codes SET attempts=attempts+1 WHERE id=? AND attempts<?")).
		WithArgs(3, 5).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE otp_codes SET attempts=attempts+1")).
		WithArgs(3, 5).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewOTPRepo(db)
	assert.NoError(t, repo.IncrementAttempts(context.Background(), 3, 5))
	assert.ErrorIs(t, repo.IncrementAttempts(context.Background(), 3, 5), ErrNotActive)
}

func TestOTPConsumeOnce(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q("UPDATE otp_codes SET consumed_at=? WHERE id=? AND consumed_at IS NULL")).
		WithArgs(testNow, 3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE otp_codes SET consumed_at=?")).
		WithArgs(testNow, 3).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewOTPRepo(db)
	assert.NoError(t, repo.Consume(context.Background(), 3, testNow))
	assert.ErrorIs(t, repo.Consume(context.Background(), 3, testNow), ErrNotActive)
}
