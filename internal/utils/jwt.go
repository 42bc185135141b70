package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for refresh tokens
	"encoding/hex"  // hex encoding and decoding functions
	"errors"
	"strconv"
	"time" // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
	"github.com/google/uuid"
)

// AccessClaims is the claim set of an access token. Ver carries the user's
// token version at issuance and is compared with the current watermark on
// every validation.
type AccessClaims struct {
	Ver    uint32 `json:"ver"`
	Role   string `json:"role,omitempty"`
	Device string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	ID    string    // jti
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long-lived opaque token. Raw goes to the client,
// Hash goes to the database.
type RefreshToken struct {
	Raw  string    // raw token string returned to the client
	Hash string    // SHA-256 hex of Raw
	Exp  time.Time // UTC expiration time
}

// AccessParams holds everything that goes into an access token.
type AccessParams struct {
	Secret   string
	Issuer   string
	UserID   uint64
	Role     string
	DeviceID string
	Version  uint32
	IssuedAt time.Time
	TTL      time.Duration
}

// NewAccessToken builds and signs an HS256 JWT.
func NewAccessToken(p AccessParams) (AccessToken, error) {
	iat := p.IssuedAt.UTC()
	exp := iat.Add(p.TTL)
	jti := uuid.NewString()
	claims := AccessClaims{
		Ver:    p.Version,
		Role:   p.Role,
		Device: p.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(p.UserID, 10),
			Issuer:    p.Issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(p.Secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, ID: jti, Exp: exp}, nil
}

// ErrTokenExpired is returned by ParseAccessToken for a well-formed token
// whose exp is in the past.
var ErrTokenExpired = errors.New("access token expired")

// ErrTokenInvalid covers every other parse or verification failure.
var ErrTokenInvalid = errors.New("access token invalid")

// ParseAccessToken verifies signature, algorithm, issuer and expiry. now is
// used as the reference time for exp/iat checks.
func ParseAccessToken(secret, issuer, raw string, now func() time.Time) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	claims := &AccessClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if _, err := claims.UserID(); err != nil {
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	return claims, nil
}

// NewRefreshToken returns a cryptographically secure random token, its hash
// and its expiration time.
func NewRefreshToken(issuedAt time.Time, ttl time.Duration) (RefreshToken, error) {
	raw, err := randomHex(48) // 48 bytes -> 96 hex chars
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{
		Raw:  raw,
		Hash: HashRefreshRaw(raw),
		Exp:  issuedAt.UTC().Add(ttl),
	}, nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a hex
// string.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
