// Package provider wraps the external e-signature vendor behind the narrow
// contract the engine depends on: submit a signing flow, fetch its status.
// Transport details of any specific vendor stay out of the engine; this
// client only upholds the retry and no-guessing rules the reconciler needs.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"contractcore/internal/domain"
	"contractcore/internal/reconcile"

	"github.com/google/uuid"
)

type SubmitSigner struct {
	Name      string `json:"name"`
	Account   string `json:"account"`
	Role      string `json:"role"`
	SignOrder int    `json:"sign_order"`
}

type SignURL struct {
	Account   string     `json:"account"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type SubmitResult struct {
	ProviderContractID string    `json:"provider_contract_id"`
	SignURLs           []SignURL `json:"sign_urls"`
}

// Client is what the engine consumes. HTTPClient talks to a real vendor
// endpoint; Mock serves canned flows for development.
type Client interface {
	SubmitContract(ctx context.Context, contractNumber string, signers []SubmitSigner) (SubmitResult, error)
	GetStatus(ctx context.Context, providerContractID string) (reconcile.Snapshot, error)
}

// RetryConfig bounds the retry loop around transient provider failures.
// After exhaustion the transport error is surfaced as-is: the engine must
// never substitute a guessed status for one it could not confirm.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type HTTPClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	retry      RetryConfig
}

type Option func(*HTTPClient)

func WithHTTP(h *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = h }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *HTTPClient) { c.retry = cfg }
}

func NewHTTPClient(baseURL, apiToken string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

func (c *HTTPClient) SubmitContract(ctx context.Context, contractNumber string, signers []SubmitSigner) (SubmitResult, error) {
	body := map[string]any{"contract_number": contractNumber, "signers": signers}
	raw, err := c.do(ctx, http.MethodPost, "/v1/signflows", body)
	if err != nil {
		return SubmitResult{}, err
	}
	var out SubmitResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return SubmitResult{}, fmt.Errorf("decode submit response: %w", err)
	}
	if strings.TrimSpace(out.ProviderContractID) == "" {
		return SubmitResult{}, fmt.Errorf("submit response missing provider_contract_id")
	}
	return out, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, providerContractID string) (reconcile.Snapshot, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v1/signflows/"+providerContractID+"/status", nil)
	if err != nil {
		return reconcile.Snapshot{}, err
	}
	return reconcile.ParseSnapshot(raw)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithBackoff(ctx, c.retry, attempt, lastRetryAfter(lastErr)); err != nil {
				return nil, err
			}
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return raw, nil
		}
		lastErr = &StatusError{Code: resp.StatusCode, Body: string(raw), RetryAfter: resp.Header.Get("Retry-After")}
		if !shouldRetryStatus(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("provider unavailable after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

type StatusError struct {
	Code       int
	Body       string
	RetryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func lastRetryAfter(err error) string {
	if se, ok := err.(*StatusError); ok {
		return se.RetryAfter
	}
	return ""
}

func sleepWithBackoff(ctx context.Context, cfg RetryConfig, attempt int, retryAfter string) error {
	delay := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if s := strings.TrimSpace(retryAfter); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Mock serves development flows without a vendor account, the same way the
// original backend faked its signing provider. Every submission gets a
// flow id and one sign URL per signer; statuses advance when the test (or
// dev tooling) sets them.
type Mock struct {
	mu    sync.Mutex
	flows map[string]*reconcile.Snapshot
}

func NewMock() *Mock {
	return &Mock{flows: map[string]*reconcile.Snapshot{}}
}

func (m *Mock) SubmitContract(_ context.Context, contractNumber string, signers []SubmitSigner) (SubmitResult, error) {
	if len(signers) == 0 {
		return SubmitResult{}, fmt.Errorf("at least one signer is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	flowID := "mock-" + uuid.NewString()
	snap := &reconcile.Snapshot{ProviderContractID: flowID, Revision: 1}
	out := SubmitResult{ProviderContractID: flowID}
	expires := time.Now().Add(24 * time.Hour)
	for _, s := range signers {
		snap.Signers = append(snap.Signers, reconcile.SignerTuple{Account: s.Account, Status: domain.SignerPending})
		out.SignURLs = append(out.SignURLs, SignURL{
			Account:   s.Account,
			URL:       fmt.Sprintf("https://mock-esign.example/sign/%s/%03d", flowID, rand.IntN(1000)),
			ExpiresAt: &expires,
		})
	}
	m.flows[flowID] = snap
	return out, nil
}

func (m *Mock) GetStatus(_ context.Context, providerContractID string) (reconcile.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.flows[providerContractID]
	if !ok {
		return reconcile.Snapshot{}, &StatusError{Code: http.StatusNotFound, Body: "unknown flow " + providerContractID}
	}
	out := *snap
	out.Signers = append([]reconcile.SignerTuple(nil), snap.Signers...)
	return out, nil
}

// SetSignerStatus advances one signer in a mock flow and bumps the flow
// revision.
func (m *Mock) SetSignerStatus(providerContractID, account string, status domain.SignerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.flows[providerContractID]
	if !ok {
		return fmt.Errorf("unknown flow %s", providerContractID)
	}
	for i := range snap.Signers {
		if snap.Signers[i].Account == account {
			snap.Signers[i].Status = status
			snap.Revision++
			return nil
		}
	}
	return fmt.Errorf("unknown signer %s in flow %s", account, providerContractID)
}
