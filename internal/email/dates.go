package email

import "time"

// rfc2822Layout is time.RFC1123 with a four-digit year, the form mail
// Date headers use.
const rfc2822Layout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Timestamp returns the unix timestamp for t as fractional epoch seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// RFC2822Date formats t as an RFC 2822 date string in GMT, for use in
// mail headers.
func RFC2822Date(t time.Time) string {
	return t.UTC().Format(rfc2822Layout)
}
