package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"contractcore/internal/domain"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(pgErr) {
		t.Fatalf("23505 must be a unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("insert: %w", pgErr)) {
		t.Fatalf("wrapped 23505 must be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Fatalf("plain errors are not unique violations")
	}
}

// fakeCreator rejects the first N candidates as duplicates, the way the
// unique index does under a collision.
type fakeCreator struct {
	duplicates int
	otherErr   error
	candidates []string
}

func (f *fakeCreator) CreateContract(_ context.Context, c domain.Contract) error {
	f.candidates = append(f.candidates, c.ContractNumber)
	if f.otherErr != nil {
		return f.otherErr
	}
	if len(f.candidates) <= f.duplicates {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateNumber, c.ContractNumber)
	}
	return nil
}

func (f *fakeCreator) GetByNumber(_ context.Context, number string) (domain.Contract, error) {
	return domain.Contract{ContractNumber: number, Status: domain.StatusDraft}, nil
}

func TestCreateWithGeneratedNumberRetriesDuplicates(t *testing.T) {
	f := &fakeCreator{duplicates: 2}
	c, err := createWithGeneratedNumber(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(f.candidates) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(f.candidates))
	}
	for _, n := range f.candidates {
		if !domain.ValidateContractNumber(n) {
			t.Fatalf("candidate %q does not validate", n)
		}
	}
	if c.ContractNumber != f.candidates[2] {
		t.Fatalf("expected the third candidate to win, got %q", c.ContractNumber)
	}
}

func TestCreateWithGeneratedNumberExhaustsAttempts(t *testing.T) {
	f := &fakeCreator{duplicates: 100}
	_, err := createWithGeneratedNumber(context.Background(), f, nil)
	if !errors.Is(err, domain.ErrDuplicateNumber) {
		t.Fatalf("expected wrapped ErrDuplicateNumber, got %v", err)
	}
	if len(f.candidates) != 5 {
		t.Fatalf("expected 5 attempts before giving up, got %d", len(f.candidates))
	}
	allSame := true
	for _, n := range f.candidates[1:] {
		if n != f.candidates[0] {
			allSame = false
			break
		}
	}
	if allSame {
		t.Fatalf("every retry used the same candidate %q", f.candidates[0])
	}
}

func TestCreateWithGeneratedNumberStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("connection refused")
	f := &fakeCreator{otherErr: boom}
	_, err := createWithGeneratedNumber(context.Background(), f, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the store error unchanged, got %v", err)
	}
	if len(f.candidates) != 1 {
		t.Fatalf("non-duplicate errors must not be retried, got %d attempts", len(f.candidates))
	}
}
