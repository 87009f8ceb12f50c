package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseInterval turns a config schedule string into a base interval.
//
// Supported forms:
//   - Go duration: "55m", "2h30m"
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Cron with a constant period: "@hourly", "@every 2h", "0 */6 * * *"
//
// Optional prefixes "every:"/"interval:" and "cron:" force the parser.
// Cron expressions whose runs are not evenly spaced ("*/7 * * * *",
// "@monthly") are rejected since a task only has a base interval.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return cronPeriod(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parsePlainInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parsePlainInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return cronPeriod(s)
	}
	d, err := parsePlainInterval(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use a duration like '55m', HH:MM like '02:30', or cron like '@every 1h')", raw)
	}
	return d, nil
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

func parsePlainInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", v, err)
		}
	}
	if d <= 0 {
		return 0, ErrInvalidInterval
	}
	return d, nil
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronSamples is how many consecutive gaps must agree for a cron expression
// to count as periodic.
const cronSamples = 64

func cronPeriod(expr string) (time.Duration, error) {
	if expr == "" {
		return 0, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
		return cd.Delay, nil
	}

	ref := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	prev := sched.Next(ref)
	if prev.IsZero() {
		return 0, fmt.Errorf("cron %q never fires", expr)
	}
	var period time.Duration
	for i := 0; i < cronSamples; i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			return 0, fmt.Errorf("cron %q never fires", expr)
		}
		gap := next.Sub(prev)
		if period == 0 {
			period = gap
		} else if gap != period {
			return 0, fmt.Errorf("cron %q is not periodic (gaps %v and %v)", expr, period, gap)
		}
		prev = next
	}
	return period, nil
}
