package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000
)

// HashPassword derives a salted PBKDF2-SHA256 digest from the plaintext.
// Every call draws a fresh salt, so hashing the same password twice yields
// different digests. Callers must only ever pass plaintext through this
// function; stored digests are opaque and must never be re-hashed.
func HashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

// VerifyPassword re-derives the digest for the candidate and compares it in
// constant time. It returns ErrBadCredentials on mismatch and a descriptive
// error when the stored digest is malformed.
func VerifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrBadCredentials
	}
	return nil
}
