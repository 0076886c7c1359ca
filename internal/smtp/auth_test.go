package smtp

import (
	"encoding/base64"
	"strings"
	"testing"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestAuthenticator_Enabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{name: "both set", username: "user", password: "pass", want: true},
		{name: "empty username", username: "", password: "pass", want: false},
		{name: "empty password", username: "user", password: "", want: false},
		{name: "both empty", username: "", password: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth := NewAuthenticator(tt.username, tt.password)
			if got := auth.Enabled(); got != tt.want {
				t.Errorf("Enabled(): got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticator_VerifyPlain(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	tests := []struct {
		name     string
		user     string
		pass     string
		authzid  string
		wantFail bool
	}{
		{name: "valid", user: "testuser", pass: "testpass"},
		{name: "valid with authzid", user: "testuser", pass: "testpass", authzid: "admin"},
		{name: "wrong password", user: "testuser", pass: "wrongpass", wantFail: true},
		{name: "wrong username", user: "wronguser", pass: "testpass", wantFail: true},
		{name: "both wrong", user: "intruder", pass: "guess", wantFail: true},
		{name: "shorter password", user: "testuser", pass: "test", wantFail: true},
		{name: "longer password", user: "testuser", pass: "testpass-and-more", wantFail: true},
		{name: "empty credentials", user: "", pass: "", wantFail: true},
		{name: "swapped", user: "testpass", pass: "testuser", wantFail: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// AUTH PLAIN format: authzid\0authcid\0password
			encoded := b64(tt.authzid + "\x00" + tt.user + "\x00" + tt.pass)
			err := auth.VerifyPlain(encoded)
			if tt.wantFail && err == nil {
				t.Error("expected an authentication error, got nil")
			}
			if !tt.wantFail && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAuthenticator_VerifyPlain_InvalidBase64(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	if err := auth.VerifyPlain("not-valid-base64!!!"); err == nil {
		t.Error("expected error for invalid base64, got nil")
	}
}

func TestAuthenticator_VerifyPlain_InvalidFormat(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	// Only one null separator instead of two
	err := auth.VerifyPlain(b64("testuser\x00testpass"))
	if err == nil {
		t.Error("expected error for invalid AUTH PLAIN format, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "format") {
		t.Errorf("error %q should name the format, not the credentials", err)
	}
}

func TestAuthenticator_VerifyLogin(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	tests := []struct {
		name     string
		user     string
		pass     string
		wantFail bool
	}{
		{name: "valid", user: "testuser", pass: "testpass"},
		{name: "wrong password", user: "testuser", pass: "wrongpass", wantFail: true},
		{name: "wrong username", user: "wronguser", pass: "testpass", wantFail: true},
		{name: "truncated username", user: "test", pass: "testpass", wantFail: true},
		{name: "empty credentials", user: "", pass: "", wantFail: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := auth.VerifyLogin(b64(tt.user), b64(tt.pass))
			if tt.wantFail && err == nil {
				t.Error("expected an authentication error, got nil")
			}
			if !tt.wantFail && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAuthenticator_VerifyLogin_InvalidBase64(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	if err := auth.VerifyLogin("invalid!!!", b64("testpass")); err == nil {
		t.Error("expected error for invalid base64 username, got nil")
	}
	if err := auth.VerifyLogin(b64("testuser"), "invalid!!!"); err == nil {
		t.Error("expected error for invalid base64 password, got nil")
	}
}
