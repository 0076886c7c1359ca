// Package sendgrid implements a Provider that sends emails via the
// SendGrid v3 mail/send API.
package sendgrid

import (
	"encoding/json"
	"fmt"

	"github.com/shineum/anymail-lite/internal/email"
	"github.com/shineum/anymail-lite/internal/merge"
)

// sendRequest is the top-level body for the v3 mail/send endpoint.
type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []contentPart     `json:"content,omitempty"`
	Attachments      []attachment      `json:"attachments,omitempty"`
	Categories       []string          `json:"categories,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// personalization groups the recipients of one delivery.
type personalization struct {
	To  []emailAddress `json:"to"`
	Cc  []emailAddress `json:"cc,omitempty"`
	Bcc []emailAddress `json:"bcc,omitempty"`
}

// emailAddress is an address with an optional display name.
type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// contentPart is one body alternative; SendGrid requires text/plain
// before text/html.
type contentPart struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// attachment is a file attachment in a mail/send request.
type attachment struct {
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	Filename    string `json:"filename"`
	Disposition string `json:"disposition,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
}

// errorResponse is the error body the API returns on failure.
type errorResponse struct {
	Errors []apiError `json:"errors"`
}

// apiError is one error detail in an error response.
type apiError struct {
	Message string `json:"message"`
	Field   string `json:"field"`
}

// buildSendRequest converts a normalized message into a mail/send body.
// The From header is split into email and display name; attachments are
// carried base64-encoded, inline ones with their disposition and cid.
func buildSendRequest(msg *email.Email) (*sendRequest, error) {
	from, err := email.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid From address %q: %w", msg.From, err)
	}

	p := personalization{
		To:  toAddresses(msg.To),
		Cc:  toAddresses(msg.Cc),
		Bcc: toAddresses(msg.Bcc),
	}

	var content []contentPart
	if msg.TextBody != "" {
		content = append(content, contentPart{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HtmlBody != "" {
		content = append(content, contentPart{Type: "text/html", Value: msg.HtmlBody})
	}

	attachments := make([]attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		a := attachment{
			Content:  att.B64Content(),
			Type:     att.ContentType,
			Filename: att.Filename,
		}
		if att.Inline {
			a.Disposition = "inline"
			a.ContentID = att.CID
		} else {
			a.Disposition = "attachment"
		}
		attachments = append(attachments, a)
	}

	return &sendRequest{
		Personalizations: []personalization{p},
		From: emailAddress{
			Email: from.Email(),
			Name:  from.Name(),
		},
		Subject:     msg.Subject,
		Content:     content,
		Attachments: attachments,
		Categories:  msg.Tags,
	}, nil
}

// marshalWithExtra serializes the request, shallow-merging the message's
// provider-specific extra fields over the generated payload. Extra keys
// win, so callers can override any generated field or add ones this
// adapter does not model (ip_pool_name, asm, mail_settings, ...).
func marshalWithExtra(req *sendRequest, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	if len(extra) == 0 {
		return base, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(base, &payload); err != nil {
		return nil, fmt.Errorf("failed to remarshal request body: %w", err)
	}

	combined := merge.CombineMaps(merge.Set(payload), merge.Set(extra))
	final, _ := combined.Get()
	return json.Marshal(final)
}

func toAddresses(addrs []string) []emailAddress {
	out := make([]emailAddress, 0, len(addrs))
	for _, raw := range addrs {
		if parsed, err := email.ParseAddress(raw); err == nil {
			out = append(out, emailAddress{Email: parsed.Email(), Name: parsed.Name()})
		} else {
			out = append(out, emailAddress{Email: raw})
		}
	}
	return out
}
