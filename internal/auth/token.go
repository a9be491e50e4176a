package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cliptide/internal/models"
)

// TokenConfig carries the signing material and lifetimes for both credential
// families. It is constructed once at startup and passed by reference; no
// component reads token secrets from the environment directly.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Validate rejects configurations that would weaken the scheme. Reusing one
// secret for both token families is a configuration error: it would let a
// refresh token authenticate requests directly.
func (c TokenConfig) Validate() error {
	if len(c.AccessSecret) == 0 {
		return errors.New("access token secret is required")
	}
	if len(c.RefreshSecret) == 0 {
		return errors.New("refresh token secret is required")
	}
	if subtle.ConstantTimeCompare(c.AccessSecret, c.RefreshSecret) == 1 {
		return errors.New("access and refresh token secrets must differ")
	}
	if c.AccessTTL <= 0 {
		return errors.New("access token expiry must be positive")
	}
	if c.RefreshTTL <= 0 {
		return errors.New("refresh token expiry must be positive")
	}
	return nil
}

// AccessClaims is the payload carried by access tokens. The profile fields
// are denormalized for cheap downstream reads and are not authoritative; the
// request gate reloads the account record before trusting anything beyond the
// subject.
type AccessClaims struct {
	jwt.RegisteredClaims
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type refreshClaims struct {
	jwt.RegisteredClaims
}

// CodecOption configures a TokenCodec instance.
type CodecOption func(*TokenCodec)

// WithClock overrides the codec's time source, letting tests simulate expiry
// without sleeping.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// TokenCodec mints and verifies the two credential families. It holds no
// mutable state beyond its configuration and is safe for concurrent use.
type TokenCodec struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenCodec validates the configuration and constructs a codec.
func NewTokenCodec(cfg TokenConfig, opts ...CodecOption) (*TokenCodec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("token config: %w", err)
	}
	codec := &TokenCodec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(codec)
		}
	}
	return codec, nil
}

// IssueAccess mints a short-lived access token for the provided account.
func (c *TokenCodec) IssueAccess(user models.User) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	now := c.now()
	expiresAt := now.Add(c.cfg.AccessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefresh mints a refresh token carrying only the account identifier.
// The random token ID guarantees two refresh tokens minted for the same
// account never compare equal byte-for-byte, which the rotation check
// depends on.
func (c *TokenCodec) IssueRefresh(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	now := c.now()
	expiresAt := now.Add(c.cfg.RefreshTTL)
	claims := refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.RefreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccess checks signature and expiry against the access secret.
func (c *TokenCodec) VerifyAccess(token string) (AccessClaims, error) {
	claims := AccessClaims{}
	if err := c.verify(token, &claims, c.cfg.AccessSecret); err != nil {
		return AccessClaims{}, err
	}
	if claims.Subject == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh checks signature and expiry against the refresh secret and
// returns the account identifier the token asserts.
func (c *TokenCodec) VerifyRefresh(token string) (string, error) {
	claims := refreshClaims{}
	if err := c.verify(token, &claims, c.cfg.RefreshSecret); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (c *TokenCodec) verify(token string, claims jwt.Claims, secret []byte) error {
	if token == "" {
		return ErrMissingCredential
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
