package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (t *Tx) InsertUser(ctx context.Context, u User) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (id, first_name, last_name, email) VALUES (?, ?, ?, ?)`,
		u.ID, u.FirstName, u.LastName, u.Email)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return nil
}

func (t *Tx) User(ctx context.Context, id string) (*User, error) {
	var u User
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (t *Tx) Users(ctx context.Context) ([]User, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, first_name, last_name, email FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUser returns false if the user did not exist.
func (t *Tx) DeleteUser(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return n > 0, nil
}
