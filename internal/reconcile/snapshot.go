package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"contractcore/internal/domain"
)

// ErrMalformedSnapshot marks a provider payload that failed strict
// validation. The contract is left unchanged; the engine never infers a
// status from partial data.
var ErrMalformedSnapshot = errors.New("malformed provider snapshot")

// Snapshot is the validated ingestion boundary for provider state. Both
// webhook payloads and poll responses are parsed into this shape before
// anything touches the store.
type Snapshot struct {
	ProviderContractID string       `json:"provider_contract_id"`
	Revision           int64        `json:"revision"`
	Signers            []SignerTuple `json:"signers"`
}

type SignerTuple struct {
	Account string              `json:"account"`
	Status  domain.SignerStatus `json:"status"`
}

// ParseSnapshot decodes and validates a raw provider payload. Unknown
// fields, missing identifiers, non-positive revisions and unrecognized
// signer statuses are all rejected as malformed.
func ParseSnapshot(raw []byte) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.ProviderContractID) == "" {
		return fmt.Errorf("%w: missing provider_contract_id", ErrMalformedSnapshot)
	}
	if s.Revision <= 0 {
		return fmt.Errorf("%w: revision must be positive", ErrMalformedSnapshot)
	}
	if len(s.Signers) == 0 {
		return fmt.Errorf("%w: no signers", ErrMalformedSnapshot)
	}
	seen := make(map[string]bool, len(s.Signers))
	for _, t := range s.Signers {
		if strings.TrimSpace(t.Account) == "" {
			return fmt.Errorf("%w: signer with empty account", ErrMalformedSnapshot)
		}
		if seen[t.Account] {
			return fmt.Errorf("%w: duplicate signer account %s", ErrMalformedSnapshot, t.Account)
		}
		seen[t.Account] = true
		switch t.Status {
		case domain.SignerPending, domain.SignerSigned, domain.SignerDeclined:
		default:
			return fmt.Errorf("%w: unknown signer status %q", ErrMalformedSnapshot, t.Status)
		}
	}
	return nil
}
