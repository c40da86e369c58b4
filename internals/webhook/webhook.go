// Package webhook delivers signed task notifications.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const SignatureHeader = "X-Webhook-Signature"

type Sender struct {
	secret     string
	httpClient *http.Client
}

type Option func(*Sender)

func WithSecret(secret string) Option {
	return func(s *Sender) { s.secret = secret }
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *Sender) {
		if timeout > 0 {
			s.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewSender(opts ...Option) *Sender {
	s := &Sender{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send POSTs payload as JSON to url. Any status outside 2xx is an error.
func (s *Sender) Send(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook to %s: %w", url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook to %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of body.
func Verify(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}
