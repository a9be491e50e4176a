// Command bootstrap-account seeds or updates an account in the datastore.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"cliptide/internal/models"
	"cliptide/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		username    string
		email       string
		displayName string
		password    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Username for the account")
	flag.StringVar(&email, "email", "", "Email address for the account")
	flag.StringVar(&displayName, "name", "", "Display name for the account")
	flag.StringVar(&password, "password", "", "Password for the account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = strings.TrimSpace(username)
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	user, created, err := bootstrapAccount(repo, username, email, displayName, password)
	if err != nil {
		fatalf("bootstrap account: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("Account %s (%s) %s successfully.\n", user.Username, user.Email, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func bootstrapAccount(repo storage.Repository, username, email, displayName, password string) (models.User, bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(username))
	if existing, ok := repo.FindUserByIdentifier(normalized); ok {
		return updateAccount(repo, existing, displayName, password)
	}

	user, err := repo.CreateUser(storage.CreateUserParams{
		Username:    username,
		Email:       email,
		DisplayName: displayName,
		Password:    password,
	})
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

func updateAccount(repo storage.Repository, existing models.User, displayName, password string) (models.User, bool, error) {
	updated := existing
	var err error
	if existing.DisplayName != displayName {
		update := storage.UserUpdate{DisplayName: &displayName}
		updated, err = repo.UpdateUser(existing.ID, update)
		if err != nil {
			return models.User{}, false, err
		}
	}

	updated, err = repo.SetUserPassword(existing.ID, password)
	if err != nil {
		return models.User{}, false, err
	}
	return updated, false, nil
}
