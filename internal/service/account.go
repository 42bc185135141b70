package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/logger"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// Password bounds in bytes. bcrypt ignores everything past 72 bytes.
const (
	MinPasswordLen = 8
	MaxPasswordLen = 72
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		n := len(fl.Field().String())
		return n >= MinPasswordLen && n <= MaxPasswordLen
	})
	return v
}

func checkEmail(email string) (string, error) {
	e := repository.NormalizeEmail(email)
	if err := validate.Var(e, "required,email,max=254"); err != nil {
		return "", apperror.Validation("a valid email is required")
	}
	return e, nil
}

func checkCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return apperror.Validation("code is required")
	}
	return nil
}

func checkPassword(pw string) error {
	if err := validate.Var(pw, "password"); err != nil {
		return apperror.Validation("password must be between 8 and 72 bytes")
	}
	return nil
}

// UserView is the public projection of a user.
type UserView struct {
	ID         uint64     `json:"id"`
	Email      string     `json:"email"`
	Role       model.Role `json:"role"`
	IsVerified bool       `json:"is_verified"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
}

func viewOf(u model.User) UserView {
	return UserView{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		IsVerified: u.IsVerified,
		IsActive:   u.IsActive,
		CreatedAt:  u.CreatedAt,
	}
}

// LoginResult is a token pair together with the user it was issued for.
type LoginResult struct {
	TokenPair
	User UserView `json:"user"`
}

// Session describes one active refresh token.
type Session struct {
	DeviceID  string    `json:"device_id"`
	FamilyID  string    `json:"family_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register creates an unverified ordinary user and sends an email
// verification code. Registering again while the address is still
// unverified replaces the password and sends a fresh code; a verified or
// suspended address is a conflict.
func (m *Manager) Register(ctx context.Context, email, password string) (UserView, error) {
	e, err := checkEmail(email)
	if err != nil {
		return UserView{}, err
	}
	if err := checkPassword(password); err != nil {
		return UserView{}, err
	}
	hash, err := utils.HashPassword(password, m.opts.BcryptCost)
	if err != nil {
		return UserView{}, internal(err)
	}
	now := m.clock()
	u := &model.User{
		Email:        e,
		PasswordHash: hash,
		Role:         model.RoleOrdinary,
		IsActive:     true,
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return m.reRegister(ctx, e, hash)
		}
		return UserView{}, internal(err)
	}
	m.log.Info("user registered", logger.UserID(u.ID))
	if err := m.RequestOTP(ctx, *u, model.PurposeEmailVerify); err != nil {
		// resend-otp recovers from this
		m.log.Error("verification code not created", logger.UserID(u.ID), zap.Error(err))
	}
	return viewOf(*u), nil
}

func (m *Manager) reRegister(ctx context.Context, email, hash string) (UserView, error) {
	u, err := m.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return UserView{}, apperror.Conflict("email already registered")
		}
		return UserView{}, internal(err)
	}
	if u.IsVerified || !u.IsActive {
		return UserView{}, apperror.Conflict("email already registered")
	}
	_, version, err := m.users.UpdatePassword(ctx, u.ID, hash, m.clock())
	if err != nil {
		return UserView{}, internal(err)
	}
	u.TokenVersion = version
	m.refreshState(ctx, u.ID)
	m.log.Info("unverified user registered again", logger.UserID(u.ID))
	if err := m.RequestOTP(ctx, u, model.PurposeEmailVerify); err != nil {
		m.log.Error("verification code not created", logger.UserID(u.ID), zap.Error(err))
	}
	return viewOf(u), nil
}

// Login checks credentials and issues a session on deviceID.
func (m *Manager) Login(ctx context.Context, email, password, deviceID string, rememberMe bool) (LoginResult, error) {
	e := repository.NormalizeEmail(email)
	if e == "" || password == "" {
		return LoginResult{}, apperror.Validation("email and password are required")
	}
	if _, err := checkDevice(deviceID); err != nil {
		return LoginResult{}, err
	}
	u, err := m.users.GetByEmail(ctx, e)
	if errors.Is(err, repository.ErrNotFound) {
		utils.BurnPasswordCheck(password)
		m.metrics.Login("unknown_user")
		return LoginResult{}, apperror.Authentication("invalid credentials")
	}
	if err != nil {
		return LoginResult{}, internal(err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		m.metrics.Login("bad_password")
		m.log.Info("login failed", logger.UserID(u.ID), zap.String("reason", "bad_password"))
		return LoginResult{}, apperror.Authentication("invalid credentials")
	}
	pair, err := m.Issue(ctx, u, deviceID, rememberMe)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindAuthentication {
			m.metrics.Login("unusable")
		}
		return LoginResult{}, err
	}
	m.metrics.Login("ok")
	return LoginResult{TokenPair: pair, User: viewOf(u)}, nil
}

// VerifyEmail consumes an email_verify code and marks the user verified.
func (m *Manager) VerifyEmail(ctx context.Context, email, code string) error {
	if err := checkCode(code); err != nil {
		return err
	}
	u, err := m.userForCode(ctx, email)
	if err != nil {
		return err
	}
	if err := m.VerifyOTP(ctx, u.ID, model.PurposeEmailVerify, code); err != nil {
		return err
	}
	if err := m.users.MarkVerified(ctx, u.ID, m.clock()); err != nil {
		return internal(err)
	}
	m.log.Info("email verified", logger.UserID(u.ID))
	return nil
}

// ResendVerification sends a new email_verify code when the address belongs
// to an active, unverified user. The outcome is never revealed.
func (m *Manager) ResendVerification(ctx context.Context, email string) error {
	e, err := checkEmail(email)
	if err != nil {
		return err
	}
	u, err := m.users.GetByEmail(ctx, e)
	if err != nil || u.IsVerified || !u.IsActive {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			m.log.Error("resend verification lookup failed", zap.Error(err))
		}
		return nil
	}
	if err := m.RequestOTP(ctx, u, model.PurposeEmailVerify); err != nil {
		m.log.Error("verification code not created", logger.UserID(u.ID), zap.Error(err))
	}
	return nil
}

// RequestPasswordReset sends a password_reset code to an existing active
// user. The outcome is never revealed.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	e, err := checkEmail(email)
	if err != nil {
		return err
	}
	u, err := m.users.GetByEmail(ctx, e)
	if err != nil || !u.IsActive {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			m.log.Error("password reset lookup failed", zap.Error(err))
		}
		return nil
	}
	if err := m.RequestOTP(ctx, u, model.PurposePasswordReset); err != nil {
		m.log.Error("reset code not created", logger.UserID(u.ID), zap.Error(err))
	}
	return nil
}

// ConfirmPasswordReset consumes a password_reset code, replaces the
// password and revokes every session. The new password is checked before
// the code so a rejected password does not burn it.
func (m *Manager) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) (int64, error) {
	if err := checkPassword(newPassword); err != nil {
		return 0, err
	}
	if err := checkCode(code); err != nil {
		return 0, err
	}
	u, err := m.userForCode(ctx, email)
	if err != nil {
		return 0, err
	}
	if err := m.VerifyOTP(ctx, u.ID, model.PurposePasswordReset, code); err != nil {
		return 0, err
	}
	return m.replacePassword(ctx, u.ID, newPassword, "password_reset")
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one, and revokes every session.
func (m *Manager) ChangePassword(ctx context.Context, userID uint64, current, next string) (int64, error) {
	u, err := m.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, errInvalidAccess
	}
	if err != nil {
		return 0, internal(err)
	}
	if !utils.VerifyPassword(u.PasswordHash, current) {
		return 0, apperror.Validation("current password is incorrect")
	}
	if err := checkPassword(next); err != nil {
		return 0, err
	}
	return m.replacePassword(ctx, u.ID, next, "password_change")
}

func (m *Manager) replacePassword(ctx context.Context, userID uint64, plain, reason string) (int64, error) {
	hash, err := utils.HashPassword(plain, m.opts.BcryptCost)
	if err != nil {
		return 0, internal(err)
	}
	n, version, err := m.users.UpdatePassword(ctx, userID, hash, m.clock())
	if err != nil {
		return 0, internal(err)
	}
	m.refreshState(ctx, userID)
	m.metrics.Revoked("password", n)
	m.log.Info("password replaced; sessions revoked",
		zap.String("event", "sessions_revoked"), zap.String("reason", reason),
		logger.UserID(userID), zap.Int64("revoked", n), zap.Uint32("token_version", version))
	return n, nil
}

// Me returns the profile of an authenticated user.
func (m *Manager) Me(ctx context.Context, userID uint64) (UserView, error) {
	u, err := m.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return UserView{}, errInvalidAccess
	}
	if err != nil {
		return UserView{}, internal(err)
	}
	return viewOf(u), nil
}

// ListSessions returns the active refresh sessions of userID, newest first.
func (m *Manager) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	rows, err := m.tokens.ListActive(ctx, userID, m.clock())
	if err != nil {
		return nil, internal(err)
	}
	out := make([]Session, 0, len(rows))
	for _, t := range rows {
		out = append(out, Session{
			DeviceID:  t.DeviceID,
			FamilyID:  t.FamilyID,
			IssuedAt:  t.IssuedAt,
			ExpiresAt: t.ExpiresAt,
		})
	}
	return out, nil
}

// userForCode resolves the owner of a code by email. An unknown address
// looks exactly like a missing code.
func (m *Manager) userForCode(ctx context.Context, email string) (model.User, error) {
	e := repository.NormalizeEmail(email)
	if e == "" {
		return model.User{}, apperror.Validation("email is required")
	}
	u, err := m.users.GetByEmail(ctx, e)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperror.NotFound("no active code")
	}
	if err != nil {
		return model.User{}, internal(err)
	}
	return u, nil
}
