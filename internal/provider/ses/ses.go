// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/anymail-lite/internal/email"
	"github.com/shineum/anymail-lite/internal/merge"
	"github.com/shineum/anymail-lite/internal/provider"
	"github.com/shineum/anymail-lite/internal/settings"
)

// espName namespaces this provider's settings (SES_REGION etc.).
const espName = "ses"

// tagName is the SES message-tag name each delivery tag is sent under.
const tagName = "anymail-tag"

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	sender  string
	client  SendEmailAPI
	prepare []provider.PrepareFunc
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a SESProvider, resolving region, credentials and sender
// through the settings resolver (overrides, then the anymail config
// mapping, then ANYMAIL_SES_* / bare SES_* environment variables).
// Static credentials are optional; the AWS default chain is used when
// they are not configured.
func New(ctx context.Context, r *settings.Resolver, overrides map[string]any) (*SESProvider, error) {
	region, err := r.GetString("region", settings.Opts{
		ESPName: espName, Overrides: overrides, AllowBare: true,
	})
	if err != nil {
		return nil, err
	}
	sender, err := r.GetString("sender", settings.Opts{
		ESPName: espName, Overrides: overrides, AllowBare: true,
	})
	if err != nil {
		return nil, err
	}
	accessKey, err := r.GetString("access_key_id", settings.Opts{
		ESPName: espName, Overrides: overrides, AllowBare: true, Default: merge.Set[any](""),
	})
	if err != nil {
		return nil, err
	}
	secretKey, err := r.GetString("secret_access_key", settings.Opts{
		ESPName: espName, Overrides: overrides, AllowBare: true, Default: merge.Set[any](""),
	})
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	p := &SESProvider{
		sender: sender,
		client: sesv2.NewFromConfig(awsCfg),
	}
	p.prepare = preparePipeline(r)
	return p, nil
}

// Sender returns the configured sender address.
func (s *SESProvider) Sender() string {
	return s.sender
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender:  sender,
		client:  client,
		prepare: preparePipeline(nil),
	}
}

// preparePipeline assembles the shared preparation steps plus the
// SES-specific ones. A nil resolver skips the settings-backed steps.
func preparePipeline(r *settings.Resolver) []provider.PrepareFunc {
	base := []provider.PrepareFunc{provider.ValidateRecipients}
	if r != nil {
		base = provider.BaseSteps(r, espName)
	}
	return provider.CollectSteps(base, []provider.PrepareFunc{
		provider.ValidateRecipients, // shared with base; collected once
		stampDate,
	})
}

// stampDate gives undated messages a send date so the raw MIME path can
// always write a Date header.
func stampDate(msg *email.Email) error {
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	return nil
}

// Send delivers an email message via AWS SES v2.
// For emails with attachments, it builds a raw MIME message.
// For simple emails, it uses the SES simple email format.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email) error {
	if err := provider.RunSteps(s.prepare, msg); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	var input *sesv2.SendEmailInput

	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(s.sender, msg)
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			Destination: &types.Destination{
				ToAddresses:  msg.To,
				CcAddresses:  msg.Cc,
				BccAddresses: msg.Bcc,
			},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: raw,
				},
			},
		}
	} else {
		input = buildSimpleInput(s.sender, msg)
	}

	input.EmailTags = buildEmailTags(msg.Tags)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			delay := backoffDelay(attempt)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		_, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return espName
}

// buildEmailTags maps delivery tags onto SES message tags.
func buildEmailTags(tags []string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.MessageTag, 0, len(tags))
	for _, tag := range tags {
		out = append(out, types.MessageTag{
			Name:  aws.String(tagName),
			Value: aws.String(tag),
		})
	}
	return out
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(sender string, msg *email.Email) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	dest := &types.Destination{
		ToAddresses:  msg.To,
		CcAddresses:  msg.Cc,
		BccAddresses: msg.Bcc,
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      dest,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}

// buildRawMessage constructs a raw MIME message for emails with
// attachments. Inline attachments keep their Content-ID so HTML bodies
// referencing cid: URLs still resolve.
func buildRawMessage(sender string, msg *email.Email) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", sender)
	if len(msg.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	if msg.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", msg.MessageID)
	}
	if !msg.Date.IsZero() {
		fmt.Fprintf(&buf, "Date: %s\r\n", email.RFC2822Date(msg.Date))
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	// Write body part
	bodyHeader := make(textproto.MIMEHeader)
	if msg.HtmlBody != "" {
		bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
		part, err := writer.CreatePart(bodyHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create body part: %w", err)
		}
		part.Write([]byte(msg.HtmlBody))
	} else if msg.TextBody != "" {
		bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
		part, err := writer.CreatePart(bodyHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create body part: %w", err)
		}
		part.Write([]byte(msg.TextBody))
	}

	for _, att := range msg.Attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.ContentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		if att.Inline {
			attHeader.Set("Content-Disposition",
				fmt.Sprintf("inline; filename=%s", mime.QEncoding.Encode("UTF-8", att.Filename)))
			if att.ContentID != "" {
				attHeader.Set("Content-Id", att.ContentID)
			}
		} else {
			attHeader.Set("Content-Disposition",
				fmt.Sprintf("attachment; filename=%s", mime.QEncoding.Encode("UTF-8", att.Filename)))
		}

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}

		encoded := encodeBase64WithLineBreaks(att.Content)
		part.Write([]byte(encoded))
	}

	writer.Close()
	return buf.Bytes(), nil
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
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
