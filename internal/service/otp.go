package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/logger"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

// RequestOTP replaces any open code of u for purpose with a fresh one and
// hands the plain code to the notifier. Publishing happens in the
// background with its own timeout; a failure is logged and counted but
// never reaches the caller.
func (m *Manager) RequestOTP(ctx context.Context, u model.User, purpose model.OTPPurpose) error {
	if !purpose.Valid() {
		return apperror.Validation("unknown otp purpose")
	}
	code, err := utils.NewNumericCode(m.opts.OTPLength)
	if err != nil {
		return internal(err)
	}
	now := m.clock()
	rec := &model.OneTimeCode{
		UserID:    u.ID,
		Purpose:   purpose,
		CodeHash:  utils.HashOTP(m.opts.OTPSecret, u.ID, string(purpose), code),
		ExpiresAt: now.Add(m.opts.OTPTTL),
		CreatedAt: now,
	}
	if err := m.otps.Replace(ctx, rec, now); err != nil {
		return internal(err)
	}
	m.metrics.OTPRequested(string(purpose))

	ev := queue.OTPRequestedEvent{
		EventID:     uuid.NewString(),
		UserID:      u.ID,
		Email:       u.Email,
		Purpose:     string(purpose),
		Code:        code,
		ExpiresAt:   rec.ExpiresAt.Format(time.RFC3339),
		RequestedAt: now.Format(time.RFC3339),
	}
	m.pending.Add(1)
	go m.publish(ev)
	return nil
}

// publish runs detached from the request context so a client hanging up
// does not cancel delivery.
func (m *Manager) publish(ev queue.OTPRequestedEvent) {
	defer m.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PublishTimeout)
	defer cancel()
	if err := m.notify.PublishOTP(ctx, ev); err != nil {
		m.metrics.PublishFailed()
		m.log.Error("otp event publish failed",
			zap.String("event", "otp_publish_failed"),
			zap.String("event_id", ev.EventID), zap.String("purpose", ev.Purpose),
			logger.UserID(ev.UserID), zap.Error(err))
	}
}

// VerifyOTP checks code against the latest code of (userID, purpose) and
// consumes it on success. Every check that reaches the stored code counts
// as an attempt, including the successful one.
func (m *Manager) VerifyOTP(ctx context.Context, userID uint64, purpose model.OTPPurpose, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return apperror.Validation("code is required")
	}
	err := m.verifyOTP(ctx, userID, purpose, code)
	m.metrics.OTPVerified(string(purpose), otpResult(err))
	return err
}

func (m *Manager) verifyOTP(ctx context.Context, userID uint64, purpose model.OTPPurpose, code string) error {
	rec, err := m.otps.Latest(ctx, userID, purpose)
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.NotFound("no active code")
	}
	if err != nil {
		return internal(err)
	}
	if rec.Consumed() {
		return apperror.New(apperror.KindAlreadyConsumed, "code already used")
	}

	if err := m.otps.IncrementAttempts(ctx, rec.ID, m.opts.OTPMaxAttempts); err != nil {
		if !errors.Is(err, repository.ErrNotActive) {
			return internal(err)
		}
		// The guard rejected: find out whether the code is spent or just
		// out of attempts.
		cur, gerr := m.otps.GetByID(ctx, rec.ID)
		switch {
		case gerr != nil && !errors.Is(gerr, repository.ErrNotFound):
			return internal(gerr)
		case gerr != nil, cur.Invalidated():
			return apperror.NotFound("no active code")
		case cur.Consumed():
			return apperror.New(apperror.KindAlreadyConsumed, "code already used")
		}
		return apperror.New(apperror.KindTooManyAttempts, "too many attempts, request a new code")
	}

	if !m.clock().Before(rec.ExpiresAt) {
		return apperror.New(apperror.KindExpired, "code expired")
	}
	if !utils.VerifyOTP(m.opts.OTPSecret, userID, string(purpose), code, rec.CodeHash) {
		return apperror.New(apperror.KindInvalidCode, "invalid code")
	}
	if err := m.otps.Consume(ctx, rec.ID, m.clock()); err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			return apperror.New(apperror.KindAlreadyConsumed, "code already used")
		}
		return internal(err)
	}
	return nil
}

func otpResult(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperror.KindOf(err)))
}
