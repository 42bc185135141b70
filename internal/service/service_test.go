package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/auth-service/internal/cache"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/repository/memstore"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// captureNotifier records published OTP events instead of sending them.
type captureNotifier struct {
	mu     sync.Mutex
	events []queue.OTPRequestedEvent
	err    error
}

func (n *captureNotifier) PublishOTP(_ context.Context, ev queue.OTPRequestedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type env struct {
	m      *Manager
	store  *memstore.Store
	clock  *fakeClock
	notify *captureNotifier
	met    *metrics.Auth
}

func newEnv(t *testing.T, tweak ...func(*Options)) *env {
	t.Helper()
	opts := Options{
		JWTSecret:      "test-secret",
		Issuer:         "auth-test",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		RememberMeTTL:  30 * 24 * time.Hour,
		RevokeOnReuse:  true,
		BcryptCost:     bcrypt.MinCost,
		OTPLength:      6,
		OTPTTL:         10 * time.Minute,
		OTPMaxAttempts: 3,
		OTPSecret:      "otp-secret",
		PublishTimeout: time.Second,
	}
	for _, f := range tweak {
		f(&opts)
	}
	e := &env{
		store:  memstore.New(),
		clock:  &fakeClock{t: base},
		notify: &captureNotifier{},
		met:    metrics.NewAuth(prometheus.NewRegistry()),
	}
	e.m = New(Deps{
		Users:    e.store.Users(),
		Tokens:   e.store.Tokens(),
		OTPs:     e.store.OTPs(),
		Cache:    cache.NewMemory(time.Minute),
		Notifier: e.notify,
		Metrics:  e.met,
		Now:      e.clock.Now,
	}, opts)
	return e
}

// code returns the plain code of the latest event for (userID, purpose).
func (e *env) code(t *testing.T, userID uint64, purpose model.OTPPurpose) string {
	t.Helper()
	e.m.Wait()
	e.notify.mu.Lock()
	defer e.notify.mu.Unlock()
	for i := len(e.notify.events) - 1; i >= 0; i-- {
		ev := e.notify.events[i]
		if ev.UserID == userID && ev.Purpose == string(purpose) {
			return ev.Code
		}
	}
	t.Fatalf("no %s code published for user %d", purpose, userID)
	return ""
}

// verifiedUser registers email and confirms it with the published code.
func (e *env) verifiedUser(t *testing.T, email, password string) model.User {
	t.Helper()
	ctx := context.Background()
	v, err := e.m.Register(ctx, email, password)
	require.NoError(t, err)
	require.NoError(t, e.m.VerifyEmail(ctx, email, e.code(t, v.ID, model.PurposeEmailVerify)))
	u, err := e.store.Users().GetByID(ctx, v.ID)
	require.NoError(t, err)
	return u
}

func (e *env) login(t *testing.T, email, password, device string) LoginResult {
	t.Helper()
	res, err := e.m.Login(context.Background(), email, password, device, false)
	require.NoError(t, err)
	return res
}

var errBroker = errors.New("broker unreachable")
