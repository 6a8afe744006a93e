package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/google/uuid"
)

const DefaultAvatarURL = "/placeholder.svg?height=128&width=128"

type UserRepo struct {
	db *sql.DB
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `WHERE email = ?`, normalizeEmail(email))
}

func (r *UserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `WHERE id = ?`, id)
}

// Create inserts a user. A taken email is reported as a conflict.
func (r *UserRepo) Create(ctx context.Context, user models.User) (*models.User, error) {
	user.ID = uuid.NewString()
	user.Email = normalizeEmail(user.Email)
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.AvatarURL == "" {
		user.AvatarURL = DefaultAvatarURL
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, user.Email).Scan(&exists); err != nil {
			return fmt.Errorf("failed to query user: %w", err)
		}
		if exists > 0 {
			return errs.NewAlreadyExists("user")
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, name, password_hash, role, avatar_url) VALUES (?, ?, ?, ?, ?, ?)`,
			user.ID, user.Email, user.Name, user.PasswordHash, string(user.Role), user.AvatarURL); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile changes the display fields of the user with email.
func (r *UserRepo) UpdateProfile(ctx context.Context, email string, name, avatarURL *string) (*models.User, error) {
	user, err := r.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if name != nil {
		user.Name = *name
	}
	if avatarURL != nil {
		user.AvatarURL = *avatarURL
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = ?, avatar_url = ? WHERE id = ?`, user.Name, user.AvatarURL, user.ID); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

func (r *UserRepo) findOne(ctx context.Context, where string, arg string) (*models.User, error) {
	var u models.User
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, role, avatar_url FROM users `+where, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound("user", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
