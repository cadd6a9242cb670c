package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contractcore/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Store is the durable record of contracts, their supersession links and
// last-known signing status. The unique index on contract_number is the
// source of truth for identifier uniqueness, not the generator. All
// mutations for one contract run inside a transaction holding that
// contract's row lock, so concurrent reconciliation passes for the same
// contract serialize instead of losing updates.
type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateContract persists a new contract in DRAFT. A duplicate candidate
// number surfaces as domain.ErrDuplicateNumber; callers retry with a fresh
// candidate (see CreateWithGeneratedNumber).
func (s *Store) CreateContract(ctx context.Context, c domain.Contract) error {
	status := c.Status
	if status == "" {
		status = domain.StatusDraft
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO contracts(contract_number, status, replaces_contract_id, provider_contract_id, customer_id)
VALUES($1,$2,$3,$4,$5)
`, c.ContractNumber, status, c.ReplacesContractID, c.ProviderContractID, c.CustomerID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateNumber, c.ContractNumber)
		}
		return err
	}
	return nil
}

// contractCreator is the slice of the store the generation-retry loop
// needs; it exists so the loop is testable without a database.
type contractCreator interface {
	CreateContract(ctx context.Context, c domain.Contract) error
	GetByNumber(ctx context.Context, number string) (domain.Contract, error)
}

// CreateWithGeneratedNumber creates a contract under a generated number,
// retrying with a fresh candidate on a uniqueness violation. The retry is
// correctness-critical: the generator's random suffix is not unique, only
// the index is.
func (s *Store) CreateWithGeneratedNumber(ctx context.Context, customerID *string) (domain.Contract, error) {
	return createWithGeneratedNumber(ctx, s, customerID)
}

func createWithGeneratedNumber(ctx context.Context, cr contractCreator, customerID *string) (domain.Contract, error) {
	const maxAttempts = 5
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		c := domain.Contract{
			ContractNumber: domain.GenerateContractNumber(),
			Status:         domain.StatusDraft,
			CustomerID:     customerID,
		}
		err := cr.CreateContract(ctx, c)
		if err == nil {
			return cr.GetByNumber(ctx, c.ContractNumber)
		}
		if !errors.Is(err, domain.ErrDuplicateNumber) {
			return domain.Contract{}, err
		}
		lastErr = err
	}
	return domain.Contract{}, fmt.Errorf("no unique contract number after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Store) GetByNumber(ctx context.Context, number string) (domain.Contract, error) {
	c, err := scanContract(s.DB.QueryRow(ctx, `
SELECT contract_number, status, replaces_contract_id, provider_contract_id, customer_id,
       last_provider_sync_at, last_provider_revision, created_at, updated_at
FROM contracts WHERE contract_number=$1
`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contract{}, fmt.Errorf("%w: %s", domain.ErrNotFound, number)
		}
		return domain.Contract{}, err
	}
	c.Signers, err = s.listSigners(ctx, s.DB, number)
	if err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// GetByProviderContractID resolves the contract a provider callback
// refers to. Provider ids are unique across contracts.
func (s *Store) GetByProviderContractID(ctx context.Context, providerContractID string) (domain.Contract, error) {
	c, err := scanContract(s.DB.QueryRow(ctx, `
SELECT contract_number, status, replaces_contract_id, provider_contract_id, customer_id,
       last_provider_sync_at, last_provider_revision, created_at, updated_at
FROM contracts WHERE provider_contract_id=$1
`, providerContractID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contract{}, fmt.Errorf("%w: provider contract %s", domain.ErrNotFound, providerContractID)
		}
		return domain.Contract{}, err
	}
	c.Signers, err = s.listSigners(ctx, s.DB, c.ContractNumber)
	if err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanContract(row rowScanner) (domain.Contract, error) {
	var c domain.Contract
	err := row.Scan(&c.ContractNumber, &c.Status, &c.ReplacesContractID, &c.ProviderContractID,
		&c.CustomerID, &c.LastProviderSyncAt, &c.LastProviderRev, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) listSigners(ctx context.Context, q querier, number string) ([]domain.SigningSession, error) {
	rows, err := q.Query(ctx, `
SELECT contract_number, signer_name, signer_account, role, sign_order,
       sign_url, sign_url_expires, signer_status, last_revision
FROM signing_sessions WHERE contract_number=$1 ORDER BY sign_order
`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SigningSession
	for rows.Next() {
		var sg domain.SigningSession
		if err := rows.Scan(&sg.ContractNumber, &sg.SignerName, &sg.SignerAccount, &sg.Role,
			&sg.SignOrder, &sg.SignURL, &sg.SignURLExpires, &sg.SignerStatus, &sg.LastRev); err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// lockContract loads a contract's row FOR UPDATE inside tx. This is the
// per-contract mutual exclusion scope: every status, signer and
// supersession mutation goes through it.
func lockContract(ctx context.Context, tx pgx.Tx, number string) (domain.Contract, error) {
	c, err := scanContract(tx.QueryRow(ctx, `
SELECT contract_number, status, replaces_contract_id, provider_contract_id, customer_id,
       last_provider_sync_at, last_provider_revision, created_at, updated_at
FROM contracts WHERE contract_number=$1 FOR UPDATE
`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contract{}, fmt.Errorf("%w: %s", domain.ErrNotFound, number)
		}
		return domain.Contract{}, err
	}
	return c, nil
}

// ApplyContractStatus is the only sanctioned mutation path for the
// aggregate status outside signer-driven recomputation. It rejects
// mutations of terminal contracts and revisions that are not strictly
// newer than the last applied one.
func (s *Store) ApplyContractStatus(ctx context.Context, number string, newStatus domain.ContractStatus, providerRevision int64) (domain.Contract, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, number)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := domain.CheckStatusTransition(c, providerRevision); err != nil {
		return domain.Contract{}, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
UPDATE contracts
SET status=$2, last_provider_revision=$3, last_provider_sync_at=$4, updated_at=now()
WHERE contract_number=$1
`, number, newStatus, providerRevision, now)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Contract{}, err
	}
	return s.GetByNumber(ctx, number)
}

// SetProviderContract records the provider-assigned flow id after
// submission and moves a DRAFT contract to SUBMITTED.
func (s *Store) SetProviderContract(ctx context.Context, number, providerContractID string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, number)
	if err != nil {
		return err
	}
	if domain.IsTerminal(c.Status) {
		return fmt.Errorf("%w: %s is %s", domain.ErrTerminalState, number, c.Status)
	}
	status := c.Status
	if status == domain.StatusDraft {
		status = domain.StatusSubmitted
	}
	_, err = tx.Exec(ctx, `
UPDATE contracts SET provider_contract_id=$2, status=$3, updated_at=now() WHERE contract_number=$1
`, number, providerContractID, status)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplySignerStatus applies one (account, status, revision) tuple under the
// contract's row lock. Stale revisions and terminal signers are rejected
// before anything is written; the aggregate status is recomputed from the
// full signer set afterwards so it can never drift from the signer states.
// With enforceOrder set, a SIGNED event for a signer whose predecessors
// have not signed is rejected instead of flagged.
func (s *Store) ApplySignerStatus(ctx context.Context, number, account string, newStatus domain.SignerStatus, providerRevision int64, enforceOrder bool) (domain.SignerApplyResult, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.SignerApplyResult{}, err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, number)
	if err != nil {
		return domain.SignerApplyResult{}, err
	}
	if domain.IsTerminal(c.Status) {
		return domain.SignerApplyResult{}, fmt.Errorf("%w: %s is %s", domain.ErrTerminalState, number, c.Status)
	}
	signers, err := s.listSigners(ctx, tx, number)
	if err != nil {
		return domain.SignerApplyResult{}, err
	}

	var current *domain.SigningSession
	for i := range signers {
		if signers[i].SignerAccount == account {
			current = &signers[i]
			break
		}
	}
	if current == nil {
		return domain.SignerApplyResult{}, fmt.Errorf("%w: %s on %s", domain.ErrSignerNotFound, account, number)
	}
	if providerRevision <= current.LastRev {
		return domain.SignerApplyResult{}, fmt.Errorf("%w: signer %s got %d, have %d", domain.ErrStaleRevision, account, providerRevision, current.LastRev)
	}
	if domain.IsSignerTerminal(current.SignerStatus) {
		return domain.SignerApplyResult{}, fmt.Errorf("%w: signer %s is %s", domain.ErrTerminalState, account, current.SignerStatus)
	}

	anomalous := newStatus == domain.SignerSigned && !domain.PredecessorsSigned(signers, account)
	if anomalous && enforceOrder {
		return domain.SignerApplyResult{}, fmt.Errorf("%w: signer %s on %s", domain.ErrSignOrderViolated, account, number)
	}

	_, err = tx.Exec(ctx, `
UPDATE signing_sessions SET signer_status=$3, last_revision=$4
WHERE contract_number=$1 AND signer_account=$2
`, number, account, newStatus, providerRevision)
	if err != nil {
		return domain.SignerApplyResult{}, err
	}
	current.SignerStatus = newStatus
	current.LastRev = providerRevision

	oldStatus := c.Status
	newAggregate := domain.DeriveStatus(signers, c.Status)
	rev := c.LastProviderRev
	if providerRevision > rev {
		rev = providerRevision
	}
	_, err = tx.Exec(ctx, `
UPDATE contracts
SET status=$2, last_provider_revision=$3, last_provider_sync_at=now(), updated_at=now()
WHERE contract_number=$1
`, number, newAggregate, rev)
	if err != nil {
		return domain.SignerApplyResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.SignerApplyResult{}, err
	}

	c.Status = newAggregate
	c.LastProviderRev = rev
	c.Signers = signers
	return domain.SignerApplyResult{
		Contract:       c,
		OldStatus:      oldStatus,
		StatusChanged:  newAggregate != oldStatus,
		OrderAnomalous: anomalous,
	}, nil
}

// RegisterSigner inserts one signing session if it does not already exist,
// matched by (contract_number, signer_account). Re-registering the same
// signer set is a no-op, which makes submission retries safe.
func (s *Store) RegisterSigner(ctx context.Context, sg domain.SigningSession) (inserted bool, err error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, sg.ContractNumber)
	if err != nil {
		return false, err
	}
	if domain.IsTerminal(c.Status) {
		return false, fmt.Errorf("%w: %s is %s", domain.ErrTerminalState, sg.ContractNumber, c.Status)
	}
	status := sg.SignerStatus
	if status == "" {
		status = domain.SignerPending
	}
	tag, err := tx.Exec(ctx, `
INSERT INTO signing_sessions(contract_number, signer_name, signer_account, role, sign_order, signer_status)
VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (contract_number, signer_account) DO NOTHING
`, sg.ContractNumber, sg.SignerName, sg.SignerAccount, sg.Role, sg.SignOrder, status)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: order %d on %s", domain.ErrSignOrderTaken, sg.SignOrder, sg.ContractNumber)
		}
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecordSignURL stores a provider-issued sign URL. A live, unexpired URL is
// never silently replaced: links already sent to users would stop working.
// Repairing a bad URL requires force (the audited admin path).
func (s *Store) RecordSignURL(ctx context.Context, number, account, url string, expiresAt *time.Time, force bool) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := lockContract(ctx, tx, number); err != nil {
		return err
	}
	signers, err := s.listSigners(ctx, tx, number)
	if err != nil {
		return err
	}
	var current *domain.SigningSession
	for i := range signers {
		if signers[i].SignerAccount == account {
			current = &signers[i]
			break
		}
	}
	if current == nil {
		return fmt.Errorf("%w: %s on %s", domain.ErrSignerNotFound, account, number)
	}
	if !force && current.HasLiveSignURL(time.Now()) {
		return fmt.Errorf("%w: signer %s", domain.ErrLiveSignURL, account)
	}
	_, err = tx.Exec(ctx, `
UPDATE signing_sessions SET sign_url=$3, sign_url_expires=$4
WHERE contract_number=$1 AND signer_account=$2
`, number, account, url, expiresAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LinkSupersession attaches newNumber as the replacement of oldNumber and
// voids the old contract. A contract with at least one SIGNED signer is
// executed history and is never silently voided.
func (s *Store) LinkSupersession(ctx context.Context, oldNumber, newNumber string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock in a stable order so concurrent supersessions cannot deadlock.
	first, second := oldNumber, newNumber
	if second < first {
		first, second = second, first
	}
	locked := map[string]domain.Contract{}
	for _, n := range []string{first, second} {
		c, err := lockContract(ctx, tx, n)
		if err != nil {
			return err
		}
		locked[n] = c
	}
	oldC, newC := locked[oldNumber], locked[newNumber]

	signers, err := s.listSigners(ctx, tx, oldNumber)
	if err != nil {
		return err
	}
	if err := domain.CheckSupersession(oldC, signers, newC); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
UPDATE contracts SET replaces_contract_id=$2, updated_at=now() WHERE contract_number=$1
`, newNumber, oldNumber); err != nil {
		return err
	}
	if oldC.Status != domain.StatusVoid {
		if _, err := tx.Exec(ctx, `
UPDATE contracts SET status=$2, updated_at=now() WHERE contract_number=$1
`, oldNumber, domain.StatusVoid); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ForceClearSupersession is the audited administrative correction for a
// mis-set replaces_contract_id. Ordinary workflow code must never clear the
// link; this path exists so the repair does not live in a one-off script.
func (s *Store) ForceClearSupersession(ctx context.Context, number, actor, reason string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := lockContract(ctx, tx, number)
	if err != nil {
		return err
	}
	if c.ReplacesContractID == nil {
		return tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO supersession_audit(contract_number, cleared_replaces, actor, reason)
VALUES($1,$2,$3,$4)
`, number, *c.ReplacesContractID, actor, reason); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
UPDATE contracts SET replaces_contract_id=NULL, updated_at=now() WHERE contract_number=$1
`, number); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListOpenProviderContracts returns contracts that are submitted to the
// provider and not yet terminal. The poller tracks exactly this set.
func (s *Store) ListOpenProviderContracts(ctx context.Context) ([]domain.Contract, error) {
	rows, err := s.DB.Query(ctx, `
SELECT contract_number, status, replaces_contract_id, provider_contract_id, customer_id,
       last_provider_sync_at, last_provider_revision, created_at, updated_at
FROM contracts
WHERE provider_contract_id IS NOT NULL
  AND status NOT IN ('FULLY_SIGNED','REJECTED','EXPIRED','VOID')
ORDER BY contract_number
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
