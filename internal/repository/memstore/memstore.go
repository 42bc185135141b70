// Package memstore is an in-process implementation of the user, token and
// one-time code stores. It keeps the same conditional-update semantics as
// the MySQL repositories under a single mutex, and backs DB_DRIVER=memory
// as well as the service and handler tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
)

// Store holds all tables. Use Users, Tokens and OTPs to get the typed views.
type Store struct {
	mu      sync.Mutex
	users   map[uint64]*model.User
	byEmail map[string]uint64
	tokens  map[uint64]*model.RefreshToken
	byHash  map[string]uint64
	otps    map[uint64]*model.OneTimeCode
	nextID  uint64
}

func New() *Store {
	return &Store{
		users:   map[uint64]*model.User{},
		byEmail: map[string]uint64{},
		tokens:  map[uint64]*model.RefreshToken{},
		byHash:  map[string]uint64{},
		otps:    map[uint64]*model.OneTimeCode{},
	}
}

func (s *Store) Users() *UserStore   { return &UserStore{s: s} }
func (s *Store) Tokens() *TokenStore { return &TokenStore{s: s} }
func (s *Store) OTPs() *OTPStore     { return &OTPStore{s: s} }

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

func tp(t time.Time) *time.Time { return &t }

// bumpLocked and revokeAllLocked mirror the transactional helpers of the
// MySQL repositories. Callers hold s.mu.
func (s *Store) bumpLocked(userID uint64, now time.Time) (uint32, error) {
	u, ok := s.users[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.TokenVersion++
	u.UpdatedAt = now
	return u.TokenVersion, nil
}

func (s *Store) revokeAllLocked(userID uint64, now time.Time) int64 {
	var n int64
	for _, t := range s.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = tp(now)
			n++
		}
	}
	return n
}

// UserStore is the users table.
type UserStore struct{ s *Store }

func (r *UserStore) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u.Email = repository.NormalizeEmail(u.Email)
	if _, exists := r.s.byEmail[u.Email]; exists {
		return repository.ErrEmailExists
	}
	if u.TokenVersion == 0 {
		u.TokenVersion = 1
	}
	u.ID = r.s.id()
	cp := *u
	r.s.users[u.ID] = &cp
	r.s.byEmail[u.Email] = u.ID
	return nil
}

func (r *UserStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byEmail[repository.NormalizeEmail(email)]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return *r.s.users[id], nil
}

func (r *UserStore) GetByID(_ context.Context, id uint64) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return *u, nil
}

func (r *UserStore) MarkVerified(_ context.Context, id uint64, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsVerified = true
	u.UpdatedAt = now
	return nil
}

func (r *UserStore) UpdatePassword(_ context.Context, id uint64, hash string, now time.Time) (int64, uint32, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return 0, 0, repository.ErrNotFound
	}
	u.PasswordHash = hash
	v, _ := r.s.bumpLocked(id, now)
	return r.s.revokeAllLocked(id, now), v, nil
}

func (r *UserStore) SetActive(_ context.Context, id uint64, active bool, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.IsActive = active
	u.UpdatedAt = now
	if active {
		return 0, nil
	}
	_, _ = r.s.bumpLocked(id, now)
	n := r.s.revokeAllLocked(id, now)
	for _, o := range r.s.otps {
		if o.UserID == id && o.ConsumedAt == nil && o.InvalidatedAt == nil {
			o.InvalidatedAt = tp(now)
		}
	}
	return n, nil
}

func (r *UserStore) SetRole(_ context.Context, id uint64, role model.Role, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = now
	return nil
}

// TokenStore is the refresh_tokens table.
type TokenStore struct{ s *Store }

func (r *TokenStore) insertLocked(t *model.RefreshToken) error {
	if _, dup := r.s.byHash[t.TokenHash]; dup {
		return repository.ErrConflict
	}
	for _, o := range r.s.tokens {
		if o.UserID == t.UserID && o.DeviceID == t.DeviceID && o.RevokedAt == nil {
			return repository.ErrConflict
		}
	}
	t.ID = r.s.id()
	cp := *t
	r.s.tokens[t.ID] = &cp
	r.s.byHash[t.TokenHash] = t.ID
	return nil
}

func (r *TokenStore) Issue(_ context.Context, t *model.RefreshToken, version uint32, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[t.UserID]; !ok || u.TokenVersion != version || !u.IsActive {
		return 0, repository.ErrUserChanged
	}
	if _, dup := r.s.byHash[t.TokenHash]; dup {
		return 0, repository.ErrConflict
	}
	var replaced int64
	for _, o := range r.s.tokens {
		if o.UserID == t.UserID && o.DeviceID == t.DeviceID && o.RevokedAt == nil {
			o.RevokedAt = tp(now)
			replaced++
		}
	}
	if err := r.insertLocked(t); err != nil {
		return 0, err
	}
	return replaced, nil
}

func (r *TokenStore) FindByHash(_ context.Context, hash string) (model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byHash[hash]
	if !ok {
		return model.RefreshToken{}, repository.ErrNotFound
	}
	return *r.s.tokens[id], nil
}

func (r *TokenStore) Rotate(_ context.Context, parentID uint64, child *model.RefreshToken, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.tokens[parentID]
	if !ok || p.RevokedAt != nil || !p.ExpiresAt.After(now) {
		return repository.ErrNotActive
	}
	p.RevokedAt = tp(now)
	if err := r.insertLocked(child); err != nil {
		p.RevokedAt = nil
		return err
	}
	id := child.ID
	p.ReplacedByID = &id
	return nil
}

func (r *TokenStore) Revoke(_ context.Context, id uint64, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[id]
	if !ok || t.RevokedAt != nil {
		return 0, nil
	}
	t.RevokedAt = tp(now)
	return 1, nil
}

func (r *TokenStore) RevokeAllForUser(_ context.Context, userID uint64, now time.Time) (int64, uint32, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, err := r.s.bumpLocked(userID, now)
	if err != nil {
		return 0, 0, err
	}
	return r.s.revokeAllLocked(userID, now), v, nil
}

func (r *TokenStore) ListActive(_ context.Context, userID uint64, now time.Time) ([]model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.RefreshToken
	for _, t := range r.s.tokens {
		if t.UserID == userID && t.ActiveAt(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out, nil
}

func (r *TokenStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.s.byHash, t.TokenHash)
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

// OTPStore is the otp_codes table.
type OTPStore struct{ s *Store }

func (r *OTPStore) Replace(_ context.Context, code *model.OneTimeCode, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.otps {
		if o.UserID == code.UserID && o.Purpose == code.Purpose && o.ConsumedAt == nil && o.InvalidatedAt == nil {
			o.InvalidatedAt = tp(now)
		}
	}
	code.ID = r.s.id()
	code.Attempts = 0
	cp := *code
	r.s.otps[code.ID] = &cp
	return nil
}

func (r *OTPStore) Latest(_ context.Context, userID uint64, purpose model.OTPPurpose) (model.OneTimeCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *model.OneTimeCode
	for _, o := range r.s.otps {
		if o.UserID != userID || o.Purpose != purpose || o.InvalidatedAt != nil {
			continue
		}
		if best == nil || o.ID > best.ID {
			best = o
		}
	}
	if best == nil {
		return model.OneTimeCode{}, repository.ErrNotFound
	}
	return *best, nil
}

func (r *OTPStore) GetByID(_ context.Context, id uint64) (model.OneTimeCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.otps[id]
	if !ok {
		return model.OneTimeCode{}, repository.ErrNotFound
	}
	return *o, nil
}

func (r *OTPStore) IncrementAttempts(_ context.Context, id uint64, max int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.otps[id]
	if !ok || o.Attempts >= max || o.ConsumedAt != nil || o.InvalidatedAt != nil {
		return repository.ErrNotActive
	}
	o.Attempts++
	return nil
}

func (r *OTPStore) Consume(_ context.Context, id uint64, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.otps[id]
	if !ok || o.ConsumedAt != nil || o.InvalidatedAt != nil {
		return repository.ErrNotActive
	}
	o.ConsumedAt = tp(now)
	return nil
}

func (r *OTPStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, o := range r.s.otps {
		if o.ExpiresAt.Before(before) {
			delete(r.s.otps, id)
			n++
		}
	}
	return n, nil
}
