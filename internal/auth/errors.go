package auth

import "errors"

var (
	// ErrMissingCredential is returned when no credential accompanies a
	// request or refresh attempt.
	ErrMissingCredential = errors.New("credential required")

	// ErrInvalidToken covers malformed tokens and signature mismatches,
	// including tokens signed with the wrong secret family.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrBadCredentials is returned for wrong passwords and, deliberately,
	// for unknown identifiers so login failures never reveal whether an
	// account exists.
	ErrBadCredentials = errors.New("invalid credentials")

	// ErrStaleCredential is returned when a refresh token verifies
	// cryptographically but no longer matches the single stored copy on the
	// account, either because a later rotation superseded it or because
	// logout cleared it.
	ErrStaleCredential = errors.New("stale refresh credential")

	// ErrPrincipalNotFound is returned when the account referenced by a
	// verified token no longer exists.
	ErrPrincipalNotFound = errors.New("account not found")
)
