// Package email defines the normalized email data model shared by the
// parser, the SMTP front end, and the ESP providers.
package email

import "time"

// Email represents a parsed email message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string

	// Date is the parsed Date header; zero when the message had none.
	Date time.Time

	// Tags are delivery tags forwarded to the ESP (categories, message
	// tags, etc. depending on the provider).
	Tags []string

	// Extra carries provider-specific payload fields merged into the
	// API request after any configured send defaults.
	Extra map[string]any
}
