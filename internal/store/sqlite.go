package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // Register sqlite driver

	"github.com/weheal/lifeline/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.seed(); err != nil {
		return nil, fmt.Errorf("failed to seed accounts: %w", err)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	query := `CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT,
		role TEXT NOT NULL DEFAULT 'patient',
		password TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// seed creates a default admin account on an empty database so the relay is
// reachable before any real accounts exist.
func (s *Store) seed() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := s.CreateUser(context.Background(), "admin@lifeline.io", "Admin", "admin", "admin")
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user with a bcrypt-hashed password and returns it.
func (s *Store) CreateUser(ctx context.Context, email, name, role, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:    uuid.NewString(),
		Email: email,
		Name:  name,
		Role:  role,
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, role, password) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Email, user.Name, user.Role, string(hash),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// GetUserByEmail returns nil, nil when no such user exists.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, role, password, created_at FROM users WHERE email = ?", email)

	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Password, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// Authenticate checks email+password and returns the user on success, or
// nil, nil for bad credentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil || user == nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, nil
	}
	return user, nil
}
