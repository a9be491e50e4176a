package auth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"cliptide/internal/models"
)

// stubPrincipalStore is an in-memory PrincipalStore for exercising the
// session authority without a datastore. The compare in RotateRefreshToken
// runs under the same lock as the write, matching the atomicity the real
// drivers provide.
type stubPrincipalStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newStubPrincipalStore(users ...models.User) *stubPrincipalStore {
	store := &stubPrincipalStore{users: make(map[string]models.User)}
	for _, user := range users {
		store.users[user.ID] = user
	}
	return store
}

func (s *stubPrincipalStore) GetUser(id string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	return user, ok
}

func (s *stubPrincipalStore) FindUserByIdentifier(identifier string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == identifier || user.Email == identifier {
			return user, true
		}
	}
	return models.User{}, false
}

func (s *stubPrincipalStore) SetRefreshToken(id, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return errors.New("no such user")
	}
	user.RefreshToken = value
	s.users[id] = user
	return nil
}

func (s *stubPrincipalStore) RotateRefreshToken(id, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	if user.RefreshToken != expected {
		return ErrStaleCredential
	}
	user.RefreshToken = next
	s.users[id] = user
	return nil
}

func (s *stubPrincipalStore) SetUserPassword(id, password string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return models.User{}, errors.New("no such user")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	user.PasswordHash = hash
	s.users[id] = user
	return user, nil
}

func newTestAuthority(t *testing.T, users ...models.User) (*SessionAuthority, *stubPrincipalStore) {
	t.Helper()
	codec, err := NewTokenCodec(testTokenConfig())
	if err != nil {
		t.Fatalf("NewTokenCodec returned error: %v", err)
	}
	store := newStubPrincipalStore(users...)
	return NewSessionAuthority(store, codec), store
}

func registeredUser(t *testing.T, password string) models.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	return models.User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestLoginByUsernameAndEmail(t *testing.T) {
	authority, store := newTestAuthority(t, registeredUser(t, "secret123"))

	user, pair, err := authority.Login("alice", "secret123")
	if err != nil {
		t.Fatalf("login by username failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both credentials to be minted")
	}
	if user.ID != "user-1" {
		t.Fatalf("unexpected user returned: %s", user.ID)
	}
	stored, _ := store.GetUser("user-1")
	if stored.RefreshToken != pair.RefreshToken {
		t.Fatal("stored refresh token does not match the minted one")
	}

	if _, _, err := authority.Login("alice@example.com", "secret123"); err != nil {
		t.Fatalf("login by email failed: %v", err)
	}
}

func TestLoginFailuresDoNotRevealAccounts(t *testing.T) {
	authority, _ := newTestAuthority(t, registeredUser(t, "secret123"))

	if _, _, err := authority.Login("alice", "wrong-password"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("wrong password: expected ErrBadCredentials, got %v", err)
	}
	if _, _, err := authority.Login("nobody", "secret123"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("unknown identifier: expected ErrBadCredentials, got %v", err)
	}
	if _, _, err := authority.Login("", "secret123"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("empty identifier: expected ErrBadCredentials, got %v", err)
	}
	if _, _, err := authority.Login("alice", ""); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("empty password: expected ErrBadCredentials, got %v", err)
	}
}

func TestRefreshRotatesExactlyOnce(t *testing.T) {
	authority, _ := newTestAuthority(t, registeredUser(t, "secret123"))

	_, pair, err := authority.Login("alice", "secret123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	rotated, err := authority.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}

	if _, err := authority.Refresh(pair.RefreshToken); !errors.Is(err, ErrStaleCredential) {
		t.Fatalf("superseded token: expected ErrStaleCredential, got %v", err)
	}
	if _, err := authority.Refresh(rotated.RefreshToken); err != nil {
		t.Fatalf("current token should rotate again: %v", err)
	}
}

func TestSecondLoginInvalidatesFirstSession(t *testing.T) {
	authority, _ := newTestAuthority(t, registeredUser(t, "secret123"))

	_, first, err := authority.Login("alice", "secret123")
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	if _, _, err := authority.Login("alice", "secret123"); err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if _, err := authority.Refresh(first.RefreshToken); !errors.Is(err, ErrStaleCredential) {
		t.Fatalf("expected first session refresh to be stale, got %v", err)
	}
}

func TestLogoutClearsRefreshAndIsIdempotent(t *testing.T) {
	authority, store := newTestAuthority(t, registeredUser(t, "secret123"))

	_, pair, err := authority.Login("alice", "secret123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := authority.Logout("user-1"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	stored, _ := store.GetUser("user-1")
	if stored.RefreshToken != "" {
		t.Fatal("expected stored refresh token to be cleared")
	}
	if err := authority.Logout("user-1"); err != nil {
		t.Fatalf("second logout should be a no-op, got %v", err)
	}
	if _, err := authority.Refresh(pair.RefreshToken); !errors.Is(err, ErrStaleCredential) {
		t.Fatalf("refresh after logout: expected ErrStaleCredential, got %v", err)
	}
}

func TestRefreshRejectsForgedAndMissingTokens(t *testing.T) {
	authority, _ := newTestAuthority(t, registeredUser(t, "secret123"))

	if _, err := authority.Refresh(""); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if _, err := authority.Refresh("forged.token.value"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	otherCodec, err := NewTokenCodec(TokenConfig{
		AccessSecret:  []byte("other-access"),
		RefreshSecret: []byte("other-refresh"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenCodec returned error: %v", err)
	}
	foreign, _, err := otherCodec.IssueRefresh("user-1")
	if err != nil {
		t.Fatalf("IssueRefresh returned error: %v", err)
	}
	if _, err := authority.Refresh(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token under foreign secret: expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshForVanishedPrincipal(t *testing.T) {
	authority, store := newTestAuthority(t, registeredUser(t, "secret123"))
	_, pair, err := authority.Login("alice", "secret123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	store.mu.Lock()
	delete(store.users, "user-1")
	store.mu.Unlock()
	if _, err := authority.Refresh(pair.RefreshToken); !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	authority, _ := newTestAuthority(t, registeredUser(t, "secret123"))
	_, pair, err := authority.Login("alice", "secret123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	const attempts = 2
	var wg sync.WaitGroup
	results := make([]error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			<-start
			_, results[slot] = authority.Refresh(pair.RefreshToken)
		}(i)
	}
	close(start)
	wg.Wait()

	successes, stale := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrStaleCredential):
			stale++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if successes != 1 || stale != 1 {
		t.Fatalf("expected exactly one winner and one stale result, got %d winners, %d stale", successes, stale)
	}
}

func TestChangePassword(t *testing.T) {
	authority, store := newTestAuthority(t, registeredUser(t, "secret123"))
	_, pair, err := authority.Login("alice", "secret123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := authority.ChangePassword("user-1", "wrong", "newsecret1"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("wrong old password: expected ErrBadCredentials, got %v", err)
	}
	if err := authority.ChangePassword("missing", "secret123", "newsecret1"); !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("unknown user: expected ErrPrincipalNotFound, got %v", err)
	}
	if err := authority.ChangePassword("user-1", "secret123", "newsecret1"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}

	// Current behaviour: a password change leaves the stored refresh
	// credential untouched, so the existing session can still rotate.
	stored, _ := store.GetUser("user-1")
	if stored.RefreshToken != pair.RefreshToken {
		t.Fatal("password change should not touch the stored refresh token")
	}
	if _, err := authority.Refresh(pair.RefreshToken); err != nil {
		t.Fatalf("refresh after password change failed: %v", err)
	}

	if _, _, err := authority.Login("alice", "newsecret1"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
	if _, _, err := authority.Login("alice", "secret123"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("old password should no longer work, got %v", err)
	}
}
