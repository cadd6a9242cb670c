// Package customer guards customer identity uniqueness ahead of
// contract creation. Phone numbers are unique among active customers
// and national id numbers are unique when present. The database holds
// the matching partial unique indexes, so these checks are advisory
// fast paths; the indexes remain the source of truth under races.
package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"contractcore/internal/domain"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// CheckPhoneUnique returns domain.ErrPhoneTaken when another active
// customer already holds the phone number. excludeID may be empty.
func (s *Store) CheckPhoneUnique(ctx context.Context, phone, excludeID string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("phone is required")
	}

	var id string
	err := s.db.QueryRow(ctx, `
SELECT customer_id FROM customers
WHERE phone=$1 AND active AND customer_id<>$2
LIMIT 1
`, phone, excludeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check phone: %w", err)
	}
	return domain.ErrPhoneTaken
}

// CheckIDNumberUnique returns domain.ErrIDNumberTaken when another
// customer already registered the national id number. An empty id
// number passes; the column is sparse and only set values collide.
func (s *Store) CheckIDNumberUnique(ctx context.Context, idNumber, excludeID string) error {
	idNumber = strings.TrimSpace(idNumber)
	if idNumber == "" {
		return nil
	}

	var id string
	err := s.db.QueryRow(ctx, `
SELECT customer_id FROM customers
WHERE id_number=$1 AND customer_id<>$2
LIMIT 1
`, idNumber, excludeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check id number: %w", err)
	}
	return domain.ErrIDNumberTaken
}

// Checker is the subset used by the contract creation handler.
type Checker interface {
	CheckPhoneUnique(ctx context.Context, phone, excludeID string) error
	CheckIDNumberUnique(ctx context.Context, idNumber, excludeID string) error
}
