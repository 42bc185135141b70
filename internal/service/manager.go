// Package service implements the token lifecycle: issuing access/refresh
// pairs, rotating refresh tokens, revocation, access-token validation and
// the one-time-code workflows built on top of them.
//
// All state lives behind the store interfaces below. The Manager itself
// keeps nothing but configuration, so any number of instances can serve
// the same database.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/apperror"
	"github.com/iliyamo/auth-service/internal/cache"
	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/queue"
)

// UserStore is implemented by repository.UserRepo and memstore.UserStore.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	MarkVerified(ctx context.Context, id uint64, now time.Time) error
	UpdatePassword(ctx context.Context, id uint64, hash string, now time.Time) (int64, uint32, error)
	SetActive(ctx context.Context, id uint64, active bool, now time.Time) (int64, error)
	SetRole(ctx context.Context, id uint64, role model.Role, now time.Time) error
}

// TokenStore is implemented by repository.TokenRepo and memstore.TokenStore.
type TokenStore interface {
	Issue(ctx context.Context, t *model.RefreshToken, version uint32, now time.Time) (int64, error)
	FindByHash(ctx context.Context, hash string) (model.RefreshToken, error)
	Rotate(ctx context.Context, parentID uint64, child *model.RefreshToken, now time.Time) error
	Revoke(ctx context.Context, id uint64, now time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uint64, now time.Time) (int64, uint32, error)
	ListActive(ctx context.Context, userID uint64, now time.Time) ([]model.RefreshToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// OTPStore is implemented by repository.OTPRepo and memstore.OTPStore.
type OTPStore interface {
	Replace(ctx context.Context, code *model.OneTimeCode, now time.Time) error
	Latest(ctx context.Context, userID uint64, purpose model.OTPPurpose) (model.OneTimeCode, error)
	GetByID(ctx context.Context, id uint64) (model.OneTimeCode, error)
	IncrementAttempts(ctx context.Context, id uint64, max int) error
	Consume(ctx context.Context, id uint64, now time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Notifier hands OTP events to whatever delivers them. queue.Publisher and
// queue.LogPublisher implement it.
type Notifier interface {
	PublishOTP(ctx context.Context, ev queue.OTPRequestedEvent) error
}

// Options are the tunables of the token lifecycle.
type Options struct {
	JWTSecret      string
	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	RememberMeTTL  time.Duration
	RevokeOnReuse  bool
	BcryptCost     int
	OTPLength      int
	OTPTTL         time.Duration
	OTPMaxAttempts int
	OTPSecret      string
	PublishTimeout time.Duration
}

// OptionsFrom copies the relevant fields out of the loaded configuration.
func OptionsFrom(c config.Config) Options {
	return Options{
		JWTSecret:      c.JWTSecret,
		Issuer:         c.JWTIssuer,
		AccessTTL:      c.AccessTTL,
		RefreshTTL:     c.RefreshTTL,
		RememberMeTTL:  c.RememberMeTTL,
		RevokeOnReuse:  c.RevokeOnReuse,
		BcryptCost:     c.BcryptCost,
		OTPLength:      c.OTPLength,
		OTPTTL:         c.OTPTTL,
		OTPMaxAttempts: c.OTPMaxAttempts,
		OTPSecret:      c.OTPSecret,
		PublishTimeout: c.PublishTimeout,
	}
}

// Deps are the collaborators of a Manager. Users, Tokens and OTPs are
// required; everything else has a harmless default.
type Deps struct {
	Users    UserStore
	Tokens   TokenStore
	OTPs     OTPStore
	Cache    cache.StateCache
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  *metrics.Auth
	Now      func() time.Time
}

type Manager struct {
	users   UserStore
	tokens  TokenStore
	otps    OTPStore
	cache   cache.StateCache
	notify  Notifier
	log     *zap.Logger
	metrics *metrics.Auth
	now     func() time.Time
	opts    Options

	pending sync.WaitGroup // in-flight OTP publishes
}

func New(d Deps, o Options) *Manager {
	m := &Manager{
		users:   d.Users,
		tokens:  d.Tokens,
		otps:    d.OTPs,
		cache:   d.Cache,
		notify:  d.Notifier,
		log:     d.Logger,
		metrics: d.Metrics,
		now:     d.Now,
		opts:    o,
	}
	if m.cache == nil {
		m.cache = cache.Nop{}
	}
	if m.notify == nil {
		m.notify = nopNotifier{}
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.opts.PublishTimeout <= 0 {
		m.opts.PublishTimeout = 3 * time.Second
	}
	if m.opts.OTPSecret == "" {
		m.opts.OTPSecret = m.opts.JWTSecret
	}
	return m
}

// Wait blocks until every OTP event handed to the notifier has been
// published or has failed. Used on shutdown.
func (m *Manager) Wait() { m.pending.Wait() }

// clock matches the microsecond precision of the DATETIME(6) columns.
func (m *Manager) clock() time.Time { return m.now().UTC().Truncate(time.Microsecond) }

type nopNotifier struct{}

func (nopNotifier) PublishOTP(context.Context, queue.OTPRequestedEvent) error { return nil }

func internal(err error) error { return apperror.Internal(err) }
