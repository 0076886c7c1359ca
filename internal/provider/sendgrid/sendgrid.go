package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shineum/anymail-lite/internal/email"
	"github.com/shineum/anymail-lite/internal/provider"
	"github.com/shineum/anymail-lite/internal/settings"
)

// espName namespaces this provider's settings (SENDGRID_API_KEY etc.).
const espName = "sendgrid"

// defaultAPIURL is the production mail/send endpoint.
const defaultAPIURL = "https://api.sendgrid.com/v3/mail/send"

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// SendGridProvider sends emails via the SendGrid v3 API using a bearer
// API key.
type SendGridProvider struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	prepare    []provider.PrepareFunc
}

// New creates a SendGridProvider, resolving the API key through the
// settings resolver (overrides, then the anymail config mapping, then
// ANYMAIL_SENDGRID_API_KEY / bare SENDGRID_API_KEY).
func New(r *settings.Resolver, overrides map[string]any) (*SendGridProvider, error) {
	apiKey, err := r.GetString("api_key", settings.Opts{
		ESPName: espName, Overrides: overrides, AllowBare: true,
	})
	if err != nil {
		return nil, err
	}

	return &SendGridProvider{
		apiKey:     apiKey,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		prepare:    preparePipeline(r),
	}, nil
}

// newWithOverrides creates a SendGridProvider with a custom URL and HTTP
// client, used for testing.
func newWithOverrides(apiKey, apiURL string, client *http.Client) *SendGridProvider {
	return &SendGridProvider{
		apiKey:     apiKey,
		apiURL:     apiURL,
		httpClient: client,
		prepare:    preparePipeline(nil),
	}
}

// preparePipeline assembles the shared preparation steps. A nil resolver
// skips the settings-backed ones.
func preparePipeline(r *settings.Resolver) []provider.PrepareFunc {
	base := []provider.PrepareFunc{provider.ValidateRecipients, provider.ValidateFrom}
	if r != nil {
		base = provider.BaseSteps(r, espName)
	}
	return provider.CollectSteps(base, []provider.PrepareFunc{
		provider.ValidateFrom, // shared with base; collected once
	})
}

// Send delivers an email message via the SendGrid v3 API. It retries
// transient failures with exponential backoff and honors Retry-After on
// HTTP 429.
func (s *SendGridProvider) Send(ctx context.Context, msg *email.Email) error {
	if err := provider.RunSteps(s.prepare, msg); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	req, err := buildSendRequest(msg)
	if err != nil {
		return err
	}
	bodyJSON, err := marshalWithExtra(req, msg.Extra)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SendGrid API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := s.doSendRequest(ctx, bodyJSON)
		if err == nil {
			return nil
		}

		lastErr = err

		apiErr, ok := err.(*sendError)
		if !ok {
			return err
		}

		switch {
		case apiErr.permanent:
			return apiErr
		case apiErr.statusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(apiErr.retryAfter, attempt)
			slog.Info("rate limited by SendGrid API",
				"retry_after", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case apiErr.transient:
			delay := backoffDelay(attempt)
			slog.Info("transient SendGrid API error, retrying",
				"status", apiErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return apiErr
		}
	}

	return fmt.Errorf("SendGrid API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the provider name.
func (s *SendGridProvider) Name() string {
	return espName
}

// doSendRequest performs a single HTTP request to the mail/send endpoint.
func (s *SendGridProvider) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for mail/send
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var errResp errorResponse
	if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && len(errResp.Errors) > 0 {
		return classifyError(resp.StatusCode, errResp.Errors[0].Message, resp.Header.Get("Retry-After"))
	}

	return classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
}

// sendError represents an error from the mail/send operation with
// classification for retry logic.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("SendGrid API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
// 400/401/403 mean a bad payload or bad key and never heal on retry.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest,
		statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		err.permanent = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay parses the Retry-After header value and returns the
// appropriate delay. Falls back to exponential backoff if the header is
// missing or unparseable.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter == "" {
		return backoffDelay(attempt)
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return backoffDelay(attempt)
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
// Delays are: 1s, 2s, 4s
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
