// Package crm is the HTTP client for the dealership CRM: lead (prospect)
// submission for the createLead tool and conversation transcripts for the
// side-effect dispatcher.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/convoflow/logging"
)

// ErrNotConfigured is returned when the endpoint for an operation is empty.
var ErrNotConfigured = errors.New("crm endpoint not configured")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm responded with status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Transcript is one completed exchange forwarded after a run.
type Transcript struct {
	ThreadID     string `json:"threadId"`
	HumanMessage string `json:"humanMessage"`
	AIMessage    string `json:"aiMessage"`
}

// Options configures a Client.
type Options struct {
	LeadURL       string
	TranscriptURL string
	Username      string
	Password      string
	// RatePerSecond bounds outbound requests. Zero disables limiting.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
	Logger        logging.Logger
}

// Client talks to the CRM web connector. It is safe for concurrent use.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	logger  logging.Logger
}

// NewClient creates a CRM client.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		RatePerSecond: 5,
		Burst:         5,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Client{opts: opts, http: opts.HTTPClient, limiter: limiter, logger: opts.Logger}
}

// SendProspect posts a lead and returns the HTTP status. It is attempted
// once; the connector does not deduplicate prospects.
func (c *Client) SendProspect(ctx context.Context, lead Lead) (int, error) {
	if c.opts.LeadURL == "" {
		return 0, fmt.Errorf("lead url: %w", ErrNotConfigured)
	}
	return c.post(ctx, c.opts.LeadURL, NewEnvelope(lead, time.Now()))
}

// SendTranscript posts a conversation transcript.
func (c *Client) SendTranscript(ctx context.Context, t Transcript) error {
	if c.opts.TranscriptURL == "" {
		return fmt.Errorf("transcript url: %w", ErrNotConfigured)
	}
	_, err := c.post(ctx, c.opts.TranscriptURL, t)
	return err
}

func (c *Client) post(ctx context.Context, url string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.Username != "" || c.opts.Password != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("crm.request.failed", "url", url, "error", err)
		return 0, fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("crm.request.rejected", "url", url, "status", resp.StatusCode)
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("crm.request.ok", "url", url, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp.StatusCode, nil
}
