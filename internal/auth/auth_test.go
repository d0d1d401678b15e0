package auth

import (
	"context"
	"testing"
	"time"

	"github.com/ltmoamin/RentalCar/internal/models"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	credentials map[string]UserCredentials
	tokens      map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		credentials: make(map[string]UserCredentials),
		tokens:      make(map[string]string),
	}
}

func (s *memStore) UpsertCredentials(c UserCredentials) error {
	s.credentials[c.Email] = c
	return nil
}

func (s *memStore) ListCredentials() ([]UserCredentials, error) {
	var out []UserCredentials
	for _, c := range s.credentials {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) UpsertToken(tokenHash, userID string) error {
	s.tokens[tokenHash] = userID
	return nil
}

func (s *memStore) DeleteToken(tokenHash string) error {
	delete(s.tokens, tokenHash)
	return nil
}

func (s *memStore) ListTokens() (map[string]string, error) {
	return s.tokens, nil
}

func createService(t *testing.T) (*AuthService, *memStore) {
	t.Helper()
	store := newMemStore()
	svc, err := NewAuthService(context.Background(), Config{TokenExpiry: time.Hour}, store)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc, store
}

func TestAuthService(t *testing.T) {
	t.Run("AddUser", func(t *testing.T) {
		svc, store := createService(t)

		u1, err := svc.AddUser("alice@example.com", "Alice", "pass1", models.RoleUser)
		if err != nil {
			t.Fatalf("Failed to add user: %v", err)
		}
		if u1.Email != "alice@example.com" {
			t.Errorf("Expected email alice@example.com, got %s", u1.Email)
		}
		if u1.PasswordHash == "pass1" || u1.PasswordHash == "" {
			t.Error("Password stored unhashed")
		}
		if _, ok := store.credentials["alice@example.com"]; !ok {
			t.Error("User not persisted to store")
		}

		if _, err := svc.AddUser("alice@example.com", "Alice", "pass2", models.RoleUser); err != ErrUserExists {
			t.Errorf("Expected ErrUserExists, got %v", err)
		}
	})

	t.Run("Login_Success", func(t *testing.T) {
		svc, store := createService(t)
		if _, err := svc.AddUser("alice@example.com", "Alice", "pass1", models.RoleUser); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}

		resp := svc.Login(LoginRequest{Email: "alice@example.com", Password: "pass1"})
		if !resp.Success {
			t.Fatalf("Expected successful login, got: %s", resp.Message)
		}
		if resp.Token == "" {
			t.Error("Expected token in response")
		}
		if resp.User.Name != "Alice" {
			t.Errorf("Expected user in response, got %+v", resp.User)
		}

		userID, err := svc.GetUserID(resp.Token)
		if err != nil {
			t.Fatalf("GetUserID failed for fresh token: %v", err)
		}
		if userID != resp.User.ID {
			t.Errorf("Token resolves to %s, want %s", userID, resp.User.ID)
		}

		// Token hash, not the raw token, must hit the store.
		if _, ok := store.tokens[resp.Token]; ok {
			t.Error("Raw token persisted to store")
		}
		if len(store.tokens) != 1 {
			t.Errorf("Expected 1 persisted token, got %d", len(store.tokens))
		}
	})

	t.Run("Login_WrongPassword", func(t *testing.T) {
		svc, _ := createService(t)
		if _, err := svc.AddUser("alice@example.com", "Alice", "pass1", models.RoleUser); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}

		resp := svc.Login(LoginRequest{Email: "alice@example.com", Password: "wrong"})
		if resp.Success {
			t.Error("Expected failed login")
		}
		if resp.Token != "" {
			t.Error("Expected no token on failure")
		}
	})

	t.Run("Login_Throttle", func(t *testing.T) {
		svc, _ := createService(t)
		if _, err := svc.AddUser("alice@example.com", "Alice", "pass1", models.RoleUser); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}

		for i := 0; i < 5; i++ {
			svc.Login(LoginRequest{Email: "alice@example.com", Password: "wrong"})
		}
		resp := svc.Login(LoginRequest{Email: "alice@example.com", Password: "pass1"})
		if resp.Success {
			t.Error("Expected throttled login to fail even with correct password")
		}

		// After the backoff window the correct password works again.
		svc.now = func() time.Time { return time.Now().Add(time.Hour) }
		resp = svc.Login(LoginRequest{Email: "alice@example.com", Password: "pass1"})
		if !resp.Success {
			t.Errorf("Expected login to succeed after backoff, got: %s", resp.Message)
		}
	})

	t.Run("Logoff", func(t *testing.T) {
		svc, _ := createService(t)
		if _, err := svc.AddUser("alice@example.com", "Alice", "pass1", models.RoleUser); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}
		resp := svc.Login(LoginRequest{Email: "alice@example.com", Password: "pass1"})
		if !resp.Success {
			t.Fatal("login failed")
		}

		if err := svc.Logoff(resp.Token); err != nil {
			t.Fatalf("Logoff failed: %v", err)
		}
		if _, err := svc.GetUserID(resp.Token); err != ErrInvalidToken {
			t.Errorf("Expected ErrInvalidToken after logoff, got %v", err)
		}
	})

	t.Run("TokensSurviveRestart", func(t *testing.T) {
		svc, store := createService(t)
		if _, err := svc.AddUser("alice@example.com", "Alice", "pass1", models.RoleUser); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}
		resp := svc.Login(LoginRequest{Email: "alice@example.com", Password: "pass1"})
		if !resp.Success {
			t.Fatal("login failed")
		}

		restarted, err := NewAuthService(context.Background(), Config{TokenExpiry: time.Hour}, store)
		if err != nil {
			t.Fatalf("Failed to recreate service: %v", err)
		}
		userID, err := restarted.GetUserID(resp.Token)
		if err != nil {
			t.Fatalf("Token did not survive restart: %v", err)
		}
		if userID != resp.User.ID {
			t.Errorf("Token resolves to %s, want %s", userID, resp.User.ID)
		}
	})
}
