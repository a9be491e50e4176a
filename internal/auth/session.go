package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cliptide/internal/models"
)

// PrincipalStore defines the persistence contract the session authority
// requires from a datastore. RotateRefreshToken must be atomic: the stored
// refresh value is the only contended mutable state in the auth core, and the
// compare must happen inside the same write that replaces it.
type PrincipalStore interface {
	GetUser(id string) (models.User, bool)
	FindUserByIdentifier(identifier string) (models.User, bool)
	SetRefreshToken(id, value string) error
	RotateRefreshToken(id, expected, next string) error
	SetUserPassword(id, password string) (models.User, error)
}

// TokenPair bundles a freshly minted access/refresh credential pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AuthorityOption configures a SessionAuthority instance.
type AuthorityOption func(*SessionAuthority)

// WithLogger attaches a structured logger for auth-flow diagnostics. Secrets,
// hashes, and token values are never logged.
func WithLogger(logger *slog.Logger) AuthorityOption {
	return func(a *SessionAuthority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// SessionAuthority orchestrates login, refresh rotation, logout, and password
// changes. It holds no in-process session state; everything lives on the
// account record in the backing store, which enforces the
// single-session-per-account policy via its lone refresh field.
type SessionAuthority struct {
	store  PrincipalStore
	codec  *TokenCodec
	logger *slog.Logger
}

// NewSessionAuthority constructs an authority over the provided store and codec.
func NewSessionAuthority(store PrincipalStore, codec *TokenCodec, opts ...AuthorityOption) *SessionAuthority {
	authority := &SessionAuthority{store: store, codec: codec, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(authority)
		}
	}
	return authority
}

// Login authenticates by username or email and mints a credential pair,
// overwriting any previously stored refresh token. A second login therefore
// invalidates the first session's refresh credential. Unknown identifiers and
// wrong passwords both surface as ErrBadCredentials so callers cannot probe
// for account existence.
func (a *SessionAuthority) Login(identifier, password string) (models.User, TokenPair, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return models.User{}, TokenPair{}, ErrBadCredentials
	}
	user, ok := a.store.FindUserByIdentifier(identifier)
	if !ok {
		return models.User{}, TokenPair{}, ErrBadCredentials
	}
	if !user.HasPassword() {
		return models.User{}, TokenPair{}, ErrBadCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			a.logger.Info("login rejected", "user_id", user.ID)
			return models.User{}, TokenPair{}, ErrBadCredentials
		}
		return models.User{}, TokenPair{}, fmt.Errorf("verify password: %w", err)
	}
	pair, err := a.mint(user)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}
	if err := a.store.SetRefreshToken(user.ID, pair.RefreshToken); err != nil {
		return models.User{}, TokenPair{}, fmt.Errorf("persist refresh token: %w", err)
	}
	a.logger.Info("login succeeded", "user_id", user.ID)
	user.RefreshToken = pair.RefreshToken
	return user, pair, nil
}

// Refresh exchanges a presented refresh token for a new credential pair. The
// presented token must verify cryptographically and match the stored copy
// byte-for-byte; rotation then replaces the stored copy in one conditional
// write, so of two concurrent refreshes with the same token exactly one wins
// and the other observes ErrStaleCredential.
func (a *SessionAuthority) Refresh(presented string) (TokenPair, error) {
	if presented == "" {
		return TokenPair{}, ErrMissingCredential
	}
	userID, err := a.codec.VerifyRefresh(presented)
	if err != nil {
		return TokenPair{}, err
	}
	user, ok := a.store.GetUser(userID)
	if !ok {
		return TokenPair{}, ErrPrincipalNotFound
	}
	if user.RefreshToken == "" || user.RefreshToken != presented {
		a.logger.Info("refresh rejected as stale", "user_id", userID)
		return TokenPair{}, ErrStaleCredential
	}
	pair, err := a.mint(user)
	if err != nil {
		return TokenPair{}, err
	}
	if err := a.store.RotateRefreshToken(user.ID, presented, pair.RefreshToken); err != nil {
		if errors.Is(err, ErrStaleCredential) {
			a.logger.Info("refresh lost rotation race", "user_id", userID)
			return TokenPair{}, ErrStaleCredential
		}
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	a.logger.Info("refresh rotated", "user_id", userID)
	return pair, nil
}

// Logout clears the stored refresh token unconditionally. Logging out twice
// is a no-op, not an error. Already-issued access tokens stay valid until
// natural expiry; there is no revocation list.
func (a *SessionAuthority) Logout(userID string) error {
	if userID == "" {
		return ErrPrincipalNotFound
	}
	if err := a.store.SetRefreshToken(userID, ""); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	a.logger.Info("logout", "user_id", userID)
	return nil
}

// ChangePassword verifies the old password before storing a hash of the new
// one. The outstanding refresh credential is intentionally left valid:
// changing a password does not force logout. Revoking it here would be a
// product-level decision, not a bug fix.
func (a *SessionAuthority) ChangePassword(userID, oldPassword, newPassword string) error {
	user, ok := a.store.GetUser(userID)
	if !ok {
		return ErrPrincipalNotFound
	}
	if !user.HasPassword() {
		return ErrBadCredentials
	}
	if err := VerifyPassword(user.PasswordHash, oldPassword); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			return ErrBadCredentials
		}
		return fmt.Errorf("verify password: %w", err)
	}
	if _, err := a.store.SetUserPassword(userID, newPassword); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	a.logger.Info("password changed", "user_id", userID)
	return nil
}

func (a *SessionAuthority) mint(user models.User) (TokenPair, error) {
	access, accessExpiry, err := a.codec.IssueAccess(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExpiry, err := a.codec.IssueRefresh(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}
