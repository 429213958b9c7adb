package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a user who signed in through the realm. The ID is the token's
// subject.
type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	EmailVerified     bool      `json:"email_verified"`
	Name              string    `json:"name"`
	PreferredUsername string    `json:"preferred_username"`
	GivenName         string    `json:"given_name"`
	FamilyName        string    `json:"family_name"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Users is the users DAO.
type Users struct {
	s *Store
}

const userColumns = `id, email, email_verified, name, preferred_username, given_name, family_name, created_at, updated_at`

// FindByID returns the user, or ErrNotFound.
func (u *Users) FindByID(ctx context.Context, id string) (*User, error) {
	const op = "Users.FindByID"
	if id == "" {
		return nil, fmt.Errorf("%s: id is empty: %w", op, ErrInvalidParameter)
	}
	row := u.s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: user %s: %w", op, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// FindAll returns every user, oldest first.
func (u *Users) FindAll(ctx context.Context) ([]*User, error) {
	const op = "Users.FindAll"
	rows, err := u.s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	users := []*User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// Add inserts the user. It returns ErrConflict when the id or email is
// taken.
func (u *Users) Add(ctx context.Context, user *User) (*User, error) {
	const op = "Users.Add"
	if err := validateUser(user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := u.s.nowUTC()
	_, err := u.s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		nullString(user.Email),
		user.EmailVerified,
		user.Name,
		user.PreferredUsername,
		user.GivenName,
		user.FamilyName,
		toMillis(now),
		toMillis(now),
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%s: user %s: %w", op, user.ID, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u.FindByID(ctx, user.ID)
}

// Update replaces the user's profile. It returns ErrNotFound for an
// unknown user.
func (u *Users) Update(ctx context.Context, user *User) (*User, error) {
	const op = "Users.Update"
	if err := validateUser(user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res, err := u.s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, email_verified = ?, name = ?, preferred_username = ?, given_name = ?, family_name = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(user.Email),
		user.EmailVerified,
		user.Name,
		user.PreferredUsername,
		user.GivenName,
		user.FamilyName,
		toMillis(u.s.nowUTC()),
		user.ID,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%s: user %s: %w", op, user.ID, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%s: user %s: %w", op, user.ID, ErrNotFound)
	}
	return u.FindByID(ctx, user.ID)
}

// Upsert adds the user, or updates it when it exists.
func (u *Users) Upsert(ctx context.Context, user *User) (*User, error) {
	const op = "Users.Upsert"
	updated, err := u.Update(ctx, user)
	if errors.Is(err, ErrNotFound) {
		updated, err = u.Add(ctx, user)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

// Delete removes the user. It returns ErrNotFound for an unknown user.
func (u *Users) Delete(ctx context.Context, id string) error {
	const op = "Users.Delete"
	res, err := u.s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: user %s: %w", op, id, ErrNotFound)
	}
	return nil
}

func validateUser(user *User) error {
	if user == nil {
		return fmt.Errorf("user is nil: %w", ErrInvalidParameter)
	}
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is empty: %w", ErrInvalidParameter)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*User, error) {
	var (
		user                 User
		email                sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&user.ID,
		&email,
		&user.EmailVerified,
		&user.Name,
		&user.PreferredUsername,
		&user.GivenName,
		&user.FamilyName,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	user.Email = email.String
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return &user, nil
}

// nullString stores an empty email as NULL, so users without one don't
// collide on the unique index.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
