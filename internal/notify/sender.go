package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultSendTimeout = 10 * time.Second

// SenderOption customises an HTTP-backed sender.
type SenderOption func(*httpSender)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *httpSender) { s.client = c }
}

// WithEndpoint overrides the API base URL or webhook URL.
func WithEndpoint(url string) SenderOption {
	return func(s *httpSender) { s.endpoint = url }
}

type httpSender struct {
	name     string
	endpoint string
	client   *http.Client
}

func newHTTPSender(name, endpoint string, opts []SenderOption) httpSender {
	s := httpSender{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultSendTimeout},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// postJSON posts payload to url and treats any non-2xx status as an error.
func (s httpSender) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", s.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", s.name, resp.StatusCode, string(respBody))
	}
	return nil
}
