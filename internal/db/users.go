// User account storage: CRUD plus bcrypt password hashing and verification.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/octahive/octabot/internal/models"
)

// ErrUserNotFound is returned when a lookup by id or username matches no row.
var ErrUserNotFound = errors.New("user not found")

// bcryptCost matches the teacher's choice of cost factor.
const bcryptCost = 10

// UserStore is the Postgres-backed User store.
type UserStore struct {
	db *Database
}

// NewUserStore builds a UserStore over an open Database.
func NewUserStore(database *Database) *UserStore {
	return &UserStore{db: database}
}

// Create hashes the password and inserts a new user, defaulting role to
// models.RoleUser when empty.
func (s *UserStore) Create(ctx context.Context, username, email, password, role string) (*models.User, error) {
	if role == "" {
		role = models.RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var emailArg interface{}
	if email != "" {
		emailArg = email
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Role:         role,
		PasswordHash: string(hash),
	}
	if email != "" {
		user.Email = &email
	}

	row := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, user.ID, user.Username, emailArg, user.Role, user.PasswordHash)

	if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// Get fetches a user by id.
func (s *UserStore) Get(ctx context.Context, id string) (*models.User, error) {
	return s.scanOne(ctx, `SELECT id, username, email, role, password_hash, created_at, updated_at
		FROM users WHERE id = $1`, id)
}

// GetByUsername fetches a user by username, case-insensitively.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.scanOne(ctx, `SELECT id, username, email, role, password_hash, created_at, updated_at
		FROM users WHERE LOWER(username) = LOWER($1)`, username)
}

func (s *UserStore) scanOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var u models.User
	var email sql.NullString
	row := s.db.DB().QueryRowContext(ctx, query, arg)
	err := row.Scan(&u.ID, &u.Username, &email, &u.Role, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

// Update applies the non-nil fields of req to the user with the given id.
func (s *UserStore) Update(ctx context.Context, id string, req models.UpdateUserRequest) (*models.User, error) {
	if req.Email != nil {
		if _, err := s.db.DB().ExecContext(ctx, `UPDATE users SET email = $1 WHERE id = $2`, *req.Email, id); err != nil {
			return nil, fmt.Errorf("update email: %w", err)
		}
	}
	if req.Role != nil {
		if _, err := s.db.DB().ExecContext(ctx, `UPDATE users SET role = $1 WHERE id = $2`, *req.Role, id); err != nil {
			return nil, fmt.Errorf("update role: %w", err)
		}
	}
	return s.Get(ctx, id)
}

// Delete removes a user, cascading to owned projects.
func (s *UserStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.DB().ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// List returns all users ordered by username.
func (s *UserStore) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT id, username, email, role, password_hash, created_at, updated_at
		FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		var u models.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &email, &u.Role, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if email.Valid {
			u.Email = &email.String
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// VerifyPassword checks password against the user's stored bcrypt hash.
func VerifyPassword(user *models.User, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
}
