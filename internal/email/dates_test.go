package email

import (
	"testing"
	"time"
)

func TestTimestamp(t *testing.T) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := Timestamp(epoch); got != 0 {
		t.Errorf("epoch: got %v, want 0", got)
	}

	halfPast := time.Date(1970, 1, 1, 0, 0, 1, 500_000_000, time.UTC)
	if got := Timestamp(halfPast); got != 1.5 {
		t.Errorf("got %v, want 1.5", got)
	}

	// A zoned time must land on the same instant as its UTC equivalent.
	zone := time.FixedZone("UTC+5", 5*3600)
	zoned := time.Date(2024, 6, 1, 17, 0, 0, 0, zone)
	utc := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if Timestamp(zoned) != Timestamp(utc) {
		t.Errorf("zoned %v != utc %v", Timestamp(zoned), Timestamp(utc))
	}
}

func TestRFC2822Date(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{
			name: "epoch start",
			in:   time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			want: "Thu, 01 Jan 1970 00:00:00 GMT",
		},
		{
			name: "zoned time rendered in GMT",
			in:   time.Date(2024, 2, 29, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600)),
			want: "Fri, 01 Mar 2024 01:30:00 GMT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RFC2822Date(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
