// Package users is the user-directory collaborator boundary: the core
// upserts the identity it got from the login provider and resolves invitee
// e-mails; profile persistence itself stays external to game logic.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var ErrUserNotFound = errors.New("user not found")

// Directory is what the core sees of the profile store.
type Directory interface {
	Upsert(ctx context.Context, userID, email, name string) error
	IDByEmail(ctx context.Context, email string) (string, error)
	Close() error
}

// Repository is the Postgres adapter.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Upsert records the verified identity, refreshing e-mail and display name
// on every login.
func (r *Repository) Upsert(ctx context.Context, userID, email, name string) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO users (id, email, name, last_seen)
	      VALUES ($1, $2, $3, NOW())
	      ON CONFLICT (id) DO UPDATE SET
	        email=EXCLUDED.email,
	        name=EXCLUDED.name,
	        last_seen=EXCLUDED.last_seen`
	_, err := r.db.ExecContext(ctx, q, strings.TrimSpace(userID), strings.TrimSpace(email), strings.TrimSpace(name))
	return err
}

func (r *Repository) IDByEmail(ctx context.Context, email string) (string, error) {
	if r == nil || r.db == nil {
		return "", ErrUserNotFound
	}
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, strings.TrimSpace(email)).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// NopDirectory satisfies Directory when no database is configured; lookups
// miss and upserts are dropped.
type NopDirectory struct{}

func (NopDirectory) Upsert(context.Context, string, string, string) error { return nil }
func (NopDirectory) IDByEmail(context.Context, string) (string, error) {
	return "", ErrUserNotFound
}
func (NopDirectory) Close() error { return nil }
