package models

import "time"

// User is the account (principal) record persisted by the datastore. Username
// and email are stored lower-cased and are globally unique. PasswordHash and
// RefreshToken never leave the storage layer in API responses; they are
// serialized here only so the JSON datastore can persist them.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CoverURL     string    `json:"coverUrl,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasPassword reports whether the account can log in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}
