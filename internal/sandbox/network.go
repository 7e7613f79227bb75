package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPResult is a captured outbound response.
type HTTPResult struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// maxResponseBody caps SafeRequest reads at 4 MiB.
const maxResponseBody = 4 << 20

// ValidateURL returns nil iff raw parses and its host is in the domain
// allowlist. Subdomains of an allowed domain pass.
func (s *Sandbox) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &Error{Op: "url", Reason: fmt.Sprintf("malformed url %q", raw)}
	}
	host := u.Hostname()

	s.mu.Lock()
	domains := s.cfg.AllowedDomains
	s.mu.Unlock()

	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return nil
		}
	}
	return &Error{Op: "url", Reason: fmt.Sprintf("domain %q is not allowed", host)}
}

// SafeRequest performs an outbound GET after the allowlist check. On a
// disallowed domain no network attempt is made.
func (s *Sandbox) SafeRequest(ctx context.Context, raw string) (*HTTPResult, error) {
	if err := s.ValidateURL(raw); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("sandbox: build request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox: request %s: %w", raw, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("sandbox: read response: %w", err)
	}
	return &HTTPResult{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
