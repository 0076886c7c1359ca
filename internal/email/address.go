package email

import (
	"net/mail"

	"github.com/zostay/go-addr/pkg/addr"
)

// ParsedAddress is a sanitized email address with separate display-name
// and bare-address accessors.
type ParsedAddress struct {
	address string
	name    string
	email   string
}

// ParseAddress parses and sanitizes a raw address header value. The
// display name keeps its original phrase text; the addr-spec is run
// through the address library for validation and cleanup. Parse
// failures are returned untranslated.
func ParseAddress(raw string) (*ParsedAddress, error) {
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return nil, err
	}

	mailbox, err := addr.ParseEmailMailbox(parsed.Address)
	if err != nil {
		return nil, err
	}

	p := &ParsedAddress{
		name:  parsed.Name,
		email: mailbox.CleanString(),
	}
	if p.name == "" {
		p.address = p.email
	} else {
		p.address = (&mail.Address{Name: p.name, Address: p.email}).String()
	}
	return p, nil
}

// String returns the sanitized address, display name included.
func (p *ParsedAddress) String() string {
	return p.address
}

// Name returns the display-name part, empty when the address has none.
func (p *ParsedAddress) Name() string {
	return p.name
}

// Email returns the bare address part (local@domain).
func (p *ParsedAddress) Email() string {
	return p.email
}
