package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zhouzirui/crm-assistant/internal/service/stream"
)

// Status reports whether the assistant backend can take requests.
type Status struct {
	Available  bool   `json:"available"`
	Configured bool   `json:"configured"`
	Model      string `json:"model,omitempty"`
	Message    string `json:"message,omitempty"`
}

// StatusChecker is a one-shot availability check.
type StatusChecker interface {
	CheckStatus(ctx context.Context) (Status, error)
}

// StatusProbe checks the assistant status endpoint over HTTP.
type StatusProbe struct {
	url    string
	client *http.Client
	creds  stream.Credentials
}

// NewStatusProbe returns a probe for url. A nil client gets a 10s timeout.
func NewStatusProbe(url string, client *http.Client, creds stream.Credentials) *StatusProbe {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &StatusProbe{url: url, client: client, creds: creds}
}

// CheckStatus performs one request. The bearer token is attached when the
// credential source has one; the status endpoint may be public.
func (p *StatusProbe) CheckStatus(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Status{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.creds != nil {
		if token, err := p.creds.Token(ctx); err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("check assistant status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("check assistant status: unexpected status %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("decode assistant status: %w", err)
	}
	return status, nil
}
