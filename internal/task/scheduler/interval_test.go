package scheduler

import (
	"testing"
	"time"
)

func TestParseIntervalVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{name: "duration", raw: "55m", want: 55 * time.Minute},
		{name: "compound duration", raw: "2h30m", want: 150 * time.Minute},
		{name: "hhmm", raw: "01:30", want: 90 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", want: 45 * time.Second},
		{name: "prefixed every", raw: "every:00:05", want: 5 * time.Minute},
		{name: "every descriptor", raw: "@every 2h", want: 2 * time.Hour},
		{name: "hourly", raw: "@hourly", want: time.Hour},
		{name: "daily", raw: "@daily", want: 24 * time.Hour},
		{name: "cron six hours", raw: "0 */6 * * *", want: 6 * time.Hour},
		{name: "prefixed cron", raw: "cron:*/5 * * * *", want: 5 * time.Minute},
		{name: "cron with seconds", raw: "*/30 * * * * *", want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseInterval(tt.raw)
			if err != nil {
				t.Fatalf("ParseInterval(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseInterval(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseIntervalInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"not-a-schedule",
		"0s",
		"-5m",
		"00:00",
		"01:75",
		"*/7 * * * *",
		"@monthly",
		"cron:",
		"61 * * * *",
	} {
		if _, err := ParseInterval(raw); err == nil {
			t.Fatalf("ParseInterval(%q): expected error", raw)
		}
	}
}
