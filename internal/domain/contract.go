package domain

import (
	"errors"
	"fmt"
	"time"
)

type ContractStatus string

const (
	StatusDraft           ContractStatus = "DRAFT"
	StatusSubmitted       ContractStatus = "SUBMITTED"
	StatusPartiallySigned ContractStatus = "PARTIALLY_SIGNED"
	StatusFullySigned     ContractStatus = "FULLY_SIGNED"
	StatusRejected        ContractStatus = "REJECTED"
	StatusExpired         ContractStatus = "EXPIRED"
	StatusVoid            ContractStatus = "VOID"
)

type SignerStatus string

const (
	SignerPending  SignerStatus = "PENDING"
	SignerSigned   SignerStatus = "SIGNED"
	SignerDeclined SignerStatus = "DECLINED"
)

var (
	ErrDuplicateNumber   = errors.New("contract number already exists")
	ErrNotFound          = errors.New("contract not found")
	ErrSignerNotFound    = errors.New("signer not found")
	ErrStaleRevision     = errors.New("provider revision is not newer than last applied")
	ErrTerminalState     = errors.New("contract is in a terminal state")
	ErrConflict          = errors.New("contract has fully signed signers and cannot be superseded")
	ErrAlreadySuperseded = errors.New("contract already replaces another contract")
	ErrLiveSignURL       = errors.New("a live sign url is already recorded for this signer")
	ErrSignOrderTaken    = errors.New("sign order already used within this contract")
	ErrSignOrderViolated = errors.New("signer signed before a predecessor in the signing order")
	ErrPhoneTaken        = errors.New("phone number already belongs to an active customer")
	ErrIDNumberTaken     = errors.New("id number already belongs to another customer")
)

type Contract struct {
	ContractNumber     string           `json:"contract_number"`
	Status             ContractStatus   `json:"status"`
	ReplacesContractID *string          `json:"replaces_contract_id,omitempty"`
	ProviderContractID *string          `json:"provider_contract_id,omitempty"`
	CustomerID         *string          `json:"customer_id,omitempty"`
	Signers            []SigningSession `json:"signers,omitempty"`
	LastProviderSyncAt *time.Time       `json:"last_provider_sync_at,omitempty"`
	LastProviderRev    int64            `json:"last_provider_revision"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type SigningSession struct {
	ContractNumber string       `json:"contract_number"`
	SignerName     string       `json:"signer_name"`
	SignerAccount  string       `json:"signer_account"`
	Role           string       `json:"role"`
	SignOrder      int          `json:"sign_order"`
	SignURL        *string      `json:"sign_url,omitempty"`
	SignURLExpires *time.Time   `json:"sign_url_expires,omitempty"`
	SignerStatus   SignerStatus `json:"signer_status"`
	LastRev        int64        `json:"last_revision"`
}

// SignerApplyResult reports the outcome of applying one signer status
// tuple: the contract after the write, the aggregate before it, and
// whether the aggregate moved.
type SignerApplyResult struct {
	Contract       Contract
	OldStatus      ContractStatus
	StatusChanged  bool
	OrderAnomalous bool
}

// IsTerminal reports whether a contract status accepts no further
// transitions. Late provider events for terminal contracts are logged and
// discarded, never applied.
func IsTerminal(s ContractStatus) bool {
	switch s {
	case StatusFullySigned, StatusRejected, StatusExpired, StatusVoid:
		return true
	}
	return false
}

func IsSignerTerminal(s SignerStatus) bool {
	return s == SignerSigned || s == SignerDeclined
}

// DeriveStatus computes the aggregate contract status from its signer
// states. The aggregate is never stored independently of the signers; it is
// recomputed on every change so it cannot drift. The fallback argument is
// the contract's submission-phase status, returned when no signer has acted
// yet.
func DeriveStatus(signers []SigningSession, fallback ContractStatus) ContractStatus {
	if len(signers) == 0 {
		return fallback
	}
	signed := 0
	for _, s := range signers {
		switch s.SignerStatus {
		case SignerDeclined:
			return StatusRejected
		case SignerSigned:
			signed++
		}
	}
	switch {
	case signed == len(signers):
		return StatusFullySigned
	case signed > 0:
		return StatusPartiallySigned
	default:
		return fallback
	}
}

// HasLiveSignURL reports whether the session carries a sign URL that has
// not expired at the given instant. A live URL grants access to a live
// document and must never be silently replaced.
func (s SigningSession) HasLiveSignURL(now time.Time) bool {
	if s.SignURL == nil || *s.SignURL == "" {
		return false
	}
	if s.SignURLExpires == nil {
		return true
	}
	return s.SignURLExpires.After(now)
}

// PredecessorsSigned reports whether every signer with a lower sign order
// than the given account has already signed. Used only when the deployment
// enforces sequential signing; the provider observed in production submits
// all signers with the same order.
func PredecessorsSigned(signers []SigningSession, account string) bool {
	var order int
	found := false
	for _, s := range signers {
		if s.SignerAccount == account {
			order = s.SignOrder
			found = true
			break
		}
	}
	if !found {
		return true
	}
	for _, s := range signers {
		if s.SignOrder < order && s.SignerStatus != SignerSigned {
			return false
		}
	}
	return true
}

// CheckStatusTransition guards contract-level status writes: terminal
// contracts accept no further transitions, and the provider revision must
// be strictly newer than the last applied one.
func CheckStatusTransition(c Contract, providerRevision int64) error {
	if IsTerminal(c.Status) {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, c.ContractNumber, c.Status)
	}
	if providerRevision <= c.LastProviderRev {
		return fmt.Errorf("%w: got %d, have %d", ErrStaleRevision, providerRevision, c.LastProviderRev)
	}
	return nil
}

// CheckSupersession decides whether newC may replace oldC. A contract with
// at least one SIGNED signer is executed history and is never silently
// voided; a contract that already replaces another is not relinked.
func CheckSupersession(oldC Contract, oldSigners []SigningSession, newC Contract) error {
	if newC.ReplacesContractID != nil {
		return fmt.Errorf("%w: %s already replaces %s", ErrAlreadySuperseded, newC.ContractNumber, *newC.ReplacesContractID)
	}
	for _, sg := range oldSigners {
		if sg.SignerStatus == SignerSigned {
			return fmt.Errorf("%w: %s has signed signer %s", ErrConflict, oldC.ContractNumber, sg.SignerAccount)
		}
	}
	if IsTerminal(oldC.Status) && oldC.Status != StatusVoid {
		return fmt.Errorf("%w: %s is %s", ErrConflict, oldC.ContractNumber, oldC.Status)
	}
	return nil
}
