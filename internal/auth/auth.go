package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "Login failed"
)

var (
	ErrUserExists = errors.New("user already exists")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
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

// Store persists credentials and live token hashes between restarts.
type Store interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
	UpsertToken(tokenHash, userID string) error
	DeleteToken(tokenHash string) error
	ListTokens() (map[string]string, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

// AuthService resolves tokens to identities and manages logins.
// It is the identity-resolution collaborator for the websocket
// handshake and the REST layer.
type AuthService struct {
	Config
	store Store
	users *geche.Locker[string, *UserCredentials]
	// Raw token -> userID, expiring.
	liveTokens geche.Geche[string, string]

	// Token hashes persisted by previous runs, consulted on cache miss.
	mu              sync.RWMutex
	persistedTokens map[string]string

	now func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store Store) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
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
		tx.Set(credentials[i].UserName, &credentials[i])
	}
	tx.Unlock()

	as.persistedTokens, err = store.ListTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	return as, nil
}

func (as *AuthService) hashToken(token string) string {
	h := hmac.New(sha512.New, as.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AddUser creates a user with the given password and persists it.
func (as *AuthService) AddUser(username, displayName, password string) (UserCredentials, error) {
	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return UserCredentials{}, ErrUserExists
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return UserCredentials{}, fmt.Errorf("failed to hash password: %w", err)
	}

	credentials := &UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    username,
			DisplayName: displayName,
		},
		PasswordHash: string(passwordHash),
	}

	if err := as.store.UpsertCredentials(*credentials); err != nil {
		return UserCredentials{}, fmt.Errorf("failed to persist user: %w", err)
	}
	tx.Set(username, credentials)

	return *credentials, nil
}

func (as *AuthService) Login(req LoginRequest) LoginResponse {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil {
		return LoginResponse{Success: false, Message: loginFailedMessage}
	}

	// Quadratic backoff after repeated failures.
	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
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

	as.liveTokens.Set(token, user.ID)
	if err := as.store.UpsertToken(as.hashToken(token), user.ID); err != nil {
		slog.Error("failed to persist token", "user_id", user.ID, "error", err)
	}
	user.ResetFailedLoginAttempts(now)

	return LoginResponse{
		Success:     true,
		UserID:      user.ID,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
	}
}

// Identity resolves a token to the user id it was issued for.
func (as *AuthService) Identity(token string) (string, error) {
	if userID, err := as.liveTokens.Get(token); err == nil {
		return userID, nil
	}

	// Token may have been issued before a restart.
	hash := as.hashToken(token)
	as.mu.RLock()
	userID, ok := as.persistedTokens[hash]
	as.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown token: %w", models.ErrForbidden)
	}

	as.liveTokens.Set(token, userID)
	return userID, nil
}

func (as *AuthService) Logoff(token string) error {
	_ = as.liveTokens.Del(token)

	hash := as.hashToken(token)
	as.mu.Lock()
	delete(as.persistedTokens, hash)
	as.mu.Unlock()

	return as.store.DeleteToken(hash)
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
