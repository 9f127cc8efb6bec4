package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSinkConfig configures the backend usage reporting client.
type HTTPSinkConfig struct {
	BaseURL string
	Token   string
	Client  *http.Client // optional
}

// HTTPSink posts usage records to the accounting backend.
type HTTPSink struct {
	url    string
	token  string
	client *http.Client
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink creates a sink posting to {baseURL}/api/v1/usage.
func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &HTTPSink{
		url:    baseURL + "/api/v1/usage",
		token:  cfg.Token,
		client: client,
	}, nil
}

// Report posts one record.
func (s *HTTPSink) Report(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("construct usage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("usage request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("usage backend returned %d", resp.StatusCode)
	}
	return nil
}
