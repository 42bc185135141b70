package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/model"
)

func TestOTPEventCarriesCode(t *testing.T) {
	e := newEnv(t)
	v, err := e.m.Register(context.Background(), "A@X.io", "P@ssw0rd")
	require.NoError(t, err)
	e.m.Wait()

	require.Equal(t, 1, e.notify.count())
	ev := e.notify.events[0]
	assert.Equal(t, "a@x.io", ev.Email)
	assert.Equal(t, v.ID, ev.UserID)
	assert.Equal(t, "email_verify", ev.Purpose)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), ev.Code)
	assert.NotEmpty(t, ev.EventID)

	exp, err := time.Parse(time.RFC3339, ev.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, base.Add(10*time.Minute), exp)
}

func TestOTPConsumedAtMostOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v, err := e.m.Register(ctx, "a@x.io", "P@ssw0rd")
	require.NoError(t, err)
	code := e.code(t, v.ID, model.PurposeEmailVerify)

	require.NoError(t, e.m.VerifyEmail(ctx, "a@x.io", code))
	err = e.m.VerifyEmail(ctx, "a@x.io", code)
	assert.ErrorIs(t, err, apperror.ErrAlreadyConsumed)

	u, err := e.store.Users().GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, u.IsVerified)
}

func TestOTPAttemptLimitKillsCode(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v, err := e.m.Register(ctx, "a@x.io", "P@ssw0rd")
	require.NoError(t, err)
	code := e.code(t, v.ID, model.PurposeEmailVerify)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 3; i++ {
		err := e.m.VerifyEmail(ctx, "a@x.io", wrong)
		assert.ErrorIs(t, err, apperror.ErrInvalidCode, "attempt %d", i+1)
	}
	err = e.m.VerifyEmail(ctx, "a@x.io", code)
	assert.ErrorIs(t, err, apperror.ErrTooManyAttempts)

	u, err := e.store.Users().GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, u.IsVerified)
	assert.Equal(t, 3.0, testutil.ToFloat64(e.met.OTPVerifies.WithLabelValues("email_verify", "invalid_code")))
}

func TestOTPExpires(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v, err := e.m.Register(ctx, "a@x.io", "P@ssw0rd")
	require.NoError(t, err)
	code := e.code(t, v.ID, model.PurposeEmailVerify)

	e.clock.Advance(10 * time.Minute)
	err = e.m.VerifyEmail(ctx, "a@x.io", code)
	assert.ErrorIs(t, err, apperror.ErrExpired)
}

func TestOTPResendSupersedesPreviousCode(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	v, err := e.m.Register(ctx, "a@x.io", "P@ssw0rd")
	require.NoError(t, err)
	first := e.code(t, v.ID, model.PurposeEmailVerify)

	require.NoError(t, e.m.ResendVerification(ctx, "a@x.io"))
	second := e.code(t, v.ID, model.PurposeEmailVerify)
	if first == second {
		t.Skip("random codes collided")
	}

	err = e.m.VerifyEmail(ctx, "a@x.io", first)
	assert.ErrorIs(t, err, apperror.ErrInvalidCode)
	assert.NoError(t, e.m.VerifyEmail(ctx, "a@x.io", second))

	// verified users get nothing new
	require.NoError(t, e.m.ResendVerification(ctx, "a@x.io"))
	e.m.Wait()
	assert.Equal(t, 2, e.notify.count())
}

func TestOTPUnknownEmailLooksLikeMissingCode(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	err := e.m.VerifyEmail(ctx, "ghost@x.io", "123456")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	err = e.m.VerifyEmail(ctx, "ghost@x.io", "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	u := e.verifiedUser(t, "a@x.io", "P@ssw0rd")
	err = e.m.VerifyOTP(ctx, u.ID, model.PurposePasswordReset, "123456")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestOTPPublishFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.notify.err = errBroker

	_, err := e.m.Register(ctx, "a@x.io", "P@ssw0rd")
	require.NoError(t, err)
	require.NoError(t, e.m.RequestPasswordReset(ctx, "a@x.io"))
	e.m.Wait()

	assert.Equal(t, 2.0, testutil.ToFloat64(e.met.OTPPublishFails))
	assert.Zero(t, e.notify.count())
}
