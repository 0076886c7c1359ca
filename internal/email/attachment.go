package email

import (
	"encoding/base64"
	"mime"
	"net/textproto"
	"path/filepath"
	"strings"
)

// DefaultAttachmentContentType is used when a content type is neither
// declared nor guessable from the filename.
const DefaultAttachmentContentType = "application/octet-stream"

// Attachment is a normalized email attachment. It unifies the two shapes
// attachments arrive in, a (name, content, type) triple from API callers
// or a decoded MIME part from the parser, into one value the providers
// can consume without caring about the origin.
type Attachment struct {
	// Filename may be empty.
	Filename string

	// Content is the decoded payload.
	Content []byte

	// ContentType is the declared type, guessed from the filename when
	// missing, falling back to DefaultAttachmentContentType.
	ContentType string

	// Inline is true when the part carried an inline content disposition.
	Inline bool

	// ContentID is the raw Content-ID header including angle brackets;
	// empty when the part had none.
	ContentID string

	// CID is ContentID with the angle brackets stripped; empty when the
	// part had none. HTML bodies reference it as src="cid:...".
	CID string
}

// NewAttachment builds an Attachment from a (filename, content, type)
// triple. contentType may be empty.
func NewAttachment(filename string, content []byte, contentType string) Attachment {
	a := Attachment{
		Filename:    filename,
		Content:     content,
		ContentType: contentType,
	}
	a.fillContentType()
	return a
}

// AttachmentFromPart builds an Attachment from a decoded MIME part. The
// header supplies filename, declared type, disposition and Content-ID;
// content must already have its transfer encoding removed.
func AttachmentFromPart(header textproto.MIMEHeader, content []byte) Attachment {
	a := Attachment{
		Filename: partFilename(header),
		Content:  content,
	}

	if ct := header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			a.ContentType = mediaType
		}
	}

	if ContentDisposition(header) == "inline" {
		a.Inline = true
		a.ContentID = header.Get("Content-Id")
		if a.ContentID != "" {
			a.CID = strings.TrimSuffix(strings.TrimPrefix(a.ContentID, "<"), ">")
		}
	}

	a.fillContentType()
	return a
}

// fillContentType guesses a missing content type from the filename
// extension, then falls back to the default.
func (a *Attachment) fillContentType() {
	if a.ContentType == "" && a.Filename != "" {
		if guessed := mime.TypeByExtension(filepath.Ext(a.Filename)); guessed != "" {
			// TypeByExtension may include parameters (charset=utf-8);
			// the bare media type is what mail payloads want.
			a.ContentType, _, _ = mime.ParseMediaType(guessed)
		}
	}
	if a.ContentType == "" {
		a.ContentType = DefaultAttachmentContentType
	}
}

// B64Content returns the content encoded as base64 text, the form every
// ESP JSON payload wants attachments in.
func (a Attachment) B64Content() string {
	return base64.StdEncoding.EncodeToString(a.Content)
}

// ContentDisposition returns the lowercased disposition token of a MIME
// header, without parameters ("inline", "attachment"), or the empty
// string when the header is absent.
func ContentDisposition(header textproto.MIMEHeader) string {
	value := header.Get("Content-Disposition")
	if value == "" {
		return ""
	}
	token, _, _ := strings.Cut(value, ";")
	return strings.ToLower(strings.TrimSpace(token))
}

// partFilename extracts the filename from a part header, preferring the
// Content-Disposition filename parameter over the Content-Type name
// parameter.
func partFilename(header textproto.MIMEHeader) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	if ct := header.Get("Content-Type"); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			if name := params["name"]; name != "" {
				return name
			}
		}
	}
	return ""
}
