// Package provider defines the interface for ESP delivery backends and
// the shared message-preparation steps they compose.
package provider

import (
	"context"

	"github.com/shineum/anymail-lite/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider adapts the normalized message to the payload of one
// target service (AWS SES, SendGrid, stdout, ...).
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}
