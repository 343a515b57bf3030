package engine

import (
	"context"
	"fmt"

	"github.com/roach88/procharness/internal/store"
)

// IdentityService manages users. Users are engine-wide and survive
// deployment deletion.
type IdentityService struct {
	e *Engine
}

func (s *IdentityService) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return fmt.Errorf("create user: id is required")
	}
	return s.e.command(ctx, func(tx *store.Tx) error {
		return tx.InsertUser(ctx, store.User(u))
	})
}

func (s *IdentityService) User(ctx context.Context, id string) (*User, error) {
	var out *User
	err := s.e.query(ctx, func(tx *store.Tx) error {
		u, err := tx.User(ctx, id)
		if err != nil {
			return wrapNotFound(err)
		}
		user := User(*u)
		out = &user
		return nil
	})
	return out, err
}

func (s *IdentityService) Users(ctx context.Context) ([]User, error) {
	var out []User
	err := s.e.query(ctx, func(tx *store.Tx) error {
		rows, err := tx.Users(ctx)
		if err != nil {
			return err
		}
		for _, u := range rows {
			out = append(out, User(u))
		}
		return nil
	})
	return out, err
}

func (s *IdentityService) DeleteUser(ctx context.Context, id string) error {
	return s.e.command(ctx, func(tx *store.Tx) error {
		deleted, err := tx.DeleteUser(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return notFound(fmt.Errorf("user %s: %w", id, store.ErrNotFound))
		}
		return nil
	})
}
