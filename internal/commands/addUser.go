package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"palaver/internal/auth"
	"palaver/internal/config"
	"palaver/internal/storage"
)

// AddUser creates a user directly in the database with a random
// password and prints the credentials. Intended for operator use
// while the server is stopped.
func AddUser(username string, cfg *config.Config) error {
	if cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required to add users")
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = bbStorage.Close() }()

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}
	authService, err := auth.NewAuthService(context.Background(), authConfig, bbStorage)
	if err != nil {
		return err
	}

	password, err := generatePassword()
	if err != nil {
		return err
	}

	credentials, err := authService.AddUser(username, username, password)
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Username:          %s\n", credentials.UserName)
	fmt.Printf("User ID:           %s\n", credentials.ID)
	fmt.Printf("Password:          %s\n\n", password)
	fmt.Println("Please share these credentials with the user over a secure channel.")
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
