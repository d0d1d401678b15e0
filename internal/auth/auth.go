package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ltmoamin/RentalCar/internal/models"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "Login failed"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidToken = errors.New("invalid token")
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message,omitempty"`
	Token       string      `json:"token,omitempty"`
	TokenExpiry int64       `json:"tokenExpiry,omitempty"`
	User        models.User `json:"user,omitempty"`
}

type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
	// Counter for consecutive failed login attempts to throttle brute force attacks.
	FailedLoginAttempts int64 `json:"failedLoginAttempts"`
	LastAttemptTime     int64 `json:"lastAttemptTime"`
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// Store is the persistence surface the auth service needs. Implemented
// by storage.BboltStorage.
type Store interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
	UpsertToken(tokenHash string, userID string) error
	DeleteToken(tokenHash string) error
	ListTokens() (map[string]string, error)
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

type AuthService struct {
	Config
	store      Store
	users      *geche.Locker[string, *UserCredentials]
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store Store) (*AuthService, error) {
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = DefaultTokenExpiry
	}

	as := &AuthService{
		Config:     config,
		store:      store,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}

	credentials, err := store.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	tx := as.users.Lock()
	for i := range credentials {
		tx.Set(credentials[i].Email, &credentials[i])
	}
	tx.Unlock()

	// Surviving tokens get a fresh expiry window; they were already
	// hashed before they hit the store.
	tokens, err := store.ListTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	for tokenHash, userID := range tokens {
		as.liveTokens.Set(tokenHash, userID)
	}

	return as, nil
}

func (as *AuthService) AddUser(email, name, password string, role models.Role) (UserCredentials, error) {
	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(email); err == nil {
		return UserCredentials{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return UserCredentials{}, fmt.Errorf("failed to hash password: %w", err)
	}

	credentials := &UserCredentials{
		User: models.User{
			ID:     uuid.NewString(),
			Email:  email,
			Name:   name,
			Role:   role,
			Status: models.UserStatusActive,
		},
		PasswordHash: string(hash),
	}

	if err := as.store.UpsertCredentials(*credentials); err != nil {
		return UserCredentials{}, fmt.Errorf("failed to persist user: %w", err)
	}
	tx.Set(email, credentials)

	return *credentials, nil
}

func (as *AuthService) Login(req LoginRequest) LoginResponse {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Email)
	if err != nil {
		return LoginResponse{Success: false, Message: loginFailedMessage}
	}

	// Check failed login attempts
	if user.FailedLoginAttempts > 3 {
		lastAttempt := user.LastAttemptTime
		failedAttempts := user.FailedLoginAttempts
		nextAttempt := lastAttempt + 30*(failedAttempts*failedAttempts)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		user.IncrementFailedLoginAttempts(now)
		return LoginResponse{Success: false, Message: loginFailedMessage}
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return LoginResponse{Success: false, Message: "internal error"}
	}

	tokenHash := hashToken(token)
	as.liveTokens.Set(tokenHash, user.ID)
	if err := as.store.UpsertToken(tokenHash, user.ID); err != nil {
		slog.Error("failed to persist token", "user_id", user.ID, "error", err)
	}
	user.ResetFailedLoginAttempts(now)

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
		User:        user.User,
	}
}

func (as *AuthService) Logoff(token string) error {
	tokenHash := hashToken(token)
	if err := as.store.DeleteToken(tokenHash); err != nil {
		slog.Error("failed to delete token", "error", err)
	}
	return as.liveTokens.Del(tokenHash)
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// GetUserID resolves a bearer token to the user it authenticates.
func (as *AuthService) GetUserID(token string) (string, error) {
	userID, err := as.liveTokens.Get(hashToken(token))
	if err != nil {
		return "", ErrInvalidToken
	}
	return userID, nil
}
