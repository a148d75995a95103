package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/antiphonal/crosstalk/pkg/memory"
)

// GetOrCreateUser implements [memory.Store]. It looks the user up by phone
// number and inserts a new row on first contact.
func (s *Store) GetOrCreateUser(ctx context.Context, phoneNumber string) (memory.User, error) {
	const sel = `
		SELECT id::text, phone_number, display_name, created_at
		FROM   users
		WHERE  phone_number = $1`

	var u memory.User
	err := s.pool.QueryRow(ctx, sel, phoneNumber).Scan(&u.ID, &u.PhoneNumber, &u.DisplayName, &u.CreatedAt)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return memory.User{}, fmt.Errorf("memory store: get user: %w", err)
	}

	// The no-op DO UPDATE makes RETURNING yield the existing row when a
	// concurrent insert wins the race on phone_number.
	const ins = `
		INSERT INTO users (id, phone_number)
		VALUES ($1, $2)
		ON CONFLICT (phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
		RETURNING id::text, phone_number, display_name, created_at`

	err = s.pool.QueryRow(ctx, ins, uuid.NewString(), phoneNumber).Scan(&u.ID, &u.PhoneNumber, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		return memory.User{}, fmt.Errorf("memory store: create user: %w", err)
	}
	return u, nil
}
