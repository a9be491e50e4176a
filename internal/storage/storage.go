package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cliptide/internal/auth"
	"cliptide/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already in use")
	ErrEmailTaken    = errors.New("email already in use")
)

const minPasswordLength = 8

type dataset struct {
	Users map[string]models.User `json:"users"`
}

func newDataset() dataset {
	return dataset{Users: make(map[string]models.User)}
}

// Storage keeps the account dataset in memory and persists every mutation to
// a JSON file via an atomic temp-file rename. It is the development and
// single-instance driver; Postgres backs multi-replica deployments.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage loads (or initializes) the JSON datastore at the provided path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := dataset{}
	if src.Users != nil {
		clone.Users = make(map[string]models.User, len(src.Users))
		for id, user := range src.Users {
			clone.Users[id] = user
		}
	}
	return clone
}

// Ping reports datastore health; the in-memory driver is always reachable.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// CreateUserParams captures the attributes that can be set when registering
// an account. Password is the only plaintext entry point; it is hashed here
// and never stored as given.
type CreateUserParams struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
	AvatarURL   string
	CoverURL    string
}

// UserUpdate mutates account profile details. The password and refresh-token
// fields are deliberately absent; they change only through their dedicated
// operations.
type UserUpdate struct {
	Username    *string
	Email       *string
	DisplayName *string
	AvatarURL   *string
	CoverURL    *string
}

func normalizeIdentifier(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// CreateUser registers an account, enforcing case-normalized username and
// email uniqueness.
func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := normalizeIdentifier(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	email := normalizeIdentifier(params.Email)
	if email == "" {
		return models.User{}, errors.New("email is required")
	}
	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		return models.User{}, errors.New("displayName is required")
	}
	if len(params.Password) < minPasswordLength {
		return models.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	for _, user := range s.data.Users {
		if user.Username == username {
			return models.User{}, ErrUsernameTaken
		}
		if user.Email == email {
			return models.User{}, ErrEmailTaken
		}
	}

	hashed, err := auth.HashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		DisplayName:  displayName,
		AvatarURL:    strings.TrimSpace(params.AvatarURL),
		CoverURL:     strings.TrimSpace(params.CoverURL),
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		return models.User{}, err
	}
	return user, nil
}

// GetUser returns the account with the provided id.
func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByIdentifier matches the identifier against usernames first, then
// emails, after case normalization.
func (s *Storage) FindUserByIdentifier(identifier string) (models.User, bool) {
	normalized := normalizeIdentifier(identifier)
	if normalized == "" {
		return models.User{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if user.Username == normalized {
			return user, true
		}
	}
	for _, user := range s.data.Users {
		if user.Email == normalized {
			return user, true
		}
	}
	return models.User{}, false
}

// ListUsers returns all accounts ordered by creation time.
func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

// UpdateUser applies profile changes, re-checking uniqueness when the
// username or email moves.
func (s *Storage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	if update.Username != nil {
		username := normalizeIdentifier(*update.Username)
		if username == "" {
			return models.User{}, errors.New("username is required")
		}
		for otherID, other := range updated.Users {
			if otherID != id && other.Username == username {
				return models.User{}, ErrUsernameTaken
			}
		}
		user.Username = username
	}
	if update.Email != nil {
		email := normalizeIdentifier(*update.Email)
		if email == "" {
			return models.User{}, errors.New("email is required")
		}
		for otherID, other := range updated.Users {
			if otherID != id && other.Email == email {
				return models.User{}, ErrEmailTaken
			}
		}
		user.Email = email
	}
	if update.DisplayName != nil {
		displayName := strings.TrimSpace(*update.DisplayName)
		if displayName == "" {
			return models.User{}, errors.New("displayName is required")
		}
		user.DisplayName = displayName
	}
	if update.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*update.AvatarURL)
	}
	if update.CoverURL != nil {
		user.CoverURL = strings.TrimSpace(*update.CoverURL)
	}
	user.UpdatedAt = s.now()

	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

// SetUserPassword replaces the stored password hash. The input is plaintext;
// hashing happens here and nowhere else on the update path, so a stored
// digest can never be re-hashed by an unrelated profile update.
func (s *Storage) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < minPasswordLength {
		return models.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	user.PasswordHash = hashed
	user.UpdatedAt = s.now()
	updated.Users[id] = user

	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

// SetRefreshToken overwrites the stored refresh token unconditionally; an
// empty value clears it (logout).
func (s *Storage) SetRefreshToken(id, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.RefreshToken = value
	user.UpdatedAt = s.now()
	updated.Users[id] = user

	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// RotateRefreshToken replaces the stored refresh token only when the current
// value equals expected. The compare and the write share the dataset lock, so
// two concurrent rotations from the same starting token cannot both succeed.
func (s *Storage) RotateRefreshToken(id, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return ErrUserNotFound
	}
	if user.RefreshToken != expected {
		return auth.ErrStaleCredential
	}
	user.RefreshToken = next
	user.UpdatedAt = s.now()
	updated.Users[id] = user

	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}
