// Package mailer provides a client for the transactional email delivery API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the email delivery operations.
type Client interface {
	// Send delivers one message and returns the provider's message ID.
	Send(ctx context.Context, msg Message) (*SendResponse, error)
}

// Message is one outbound email.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// SendResponse is the parsed delivery API response.
type SendResponse struct {
	ID string `json:"id"`
}

// Option configures the mailer client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new delivery API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.resend.com",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

func (c *httpClient) Send(ctx context.Context, msg Message) (*SendResponse, error) {
	if len(msg.To) == 0 {
		return nil, eris.New("mailer: message has no recipients")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, eris.Wrap(err, "mailer: marshal message")
	}

	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "mailer: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "mailer: request failed")
		} else {
			var out SendResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				if decodeErr != nil {
					return nil, eris.Wrap(decodeErr, "mailer: decode response")
				}
				return &out, nil
			case retryableStatusCode(resp.StatusCode):
				lastErr = eris.Errorf("mailer: status %d", resp.StatusCode)
			default:
				return nil, eris.Errorf("mailer: status %d", resp.StatusCode)
			}
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}
