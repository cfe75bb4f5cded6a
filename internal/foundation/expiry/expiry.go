// Package expiry parses artifact retention periods such as "90m", "1 week",
// "3 days 4 hours" or "never".
package expiry

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": day, "day": day, "days": day,
	"w": week, "wk": week, "week": week, "weeks": week,
	"mo": month, "month": month, "months": month,
	"y": year, "yr": year, "year": year, "years": year,
}

var term = regexp.MustCompile(`^(\d+)\s*([a-z]+)`)

// Period is a parsed retention period. Never marks bundles that do not expire;
// Immediate marks an explicit zero period, expired as soon as it is created.
type Period struct {
	Duration  time.Duration
	Never     bool
	Immediate bool
}

// IsZero reports whether nothing was configured.
func (p Period) IsZero() bool { return p.Duration == 0 && !p.Never && !p.Immediate }

// ExpiresAt returns the expiry instant for something created at t, or nil when it never expires.
func (p Period) ExpiresAt(t time.Time) *time.Time {
	if p.Never {
		return nil
	}
	e := t.Add(p.Duration)
	return &e
}

func (p Period) String() string {
	if p.Never {
		return "never"
	}
	return p.Duration.String()
}

// Parse accepts Go durations, human forms and "never". Empty input yields the zero Period.
func Parse(raw string) (Period, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "":
		return Period{}, nil
	case "never":
		return Period{Never: true}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return period(raw, d)
	}

	var total time.Duration
	rest := s
	for rest != "" {
		rest = strings.TrimLeft(rest, " ,")
		rest = strings.TrimPrefix(rest, "and ")
		if rest == "" {
			break
		}
		m := term.FindStringSubmatch(rest)
		if m == nil {
			return Period{}, fmt.Errorf("cannot parse expire_in %q", raw)
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Period{}, fmt.Errorf("cannot parse expire_in %q: %w", raw, err)
		}
		unit, ok := units[m[2]]
		if !ok {
			return Period{}, fmt.Errorf("unknown unit %q in expire_in %q", m[2], raw)
		}
		if int64(n) > (math.MaxInt64-int64(total))/int64(unit) {
			return Period{}, fmt.Errorf("expire_in %q is too long", raw)
		}
		total += time.Duration(n) * unit
		rest = rest[len(m[0]):]
	}
	return period(raw, total)
}

func period(raw string, d time.Duration) (Period, error) {
	switch {
	case d < 0:
		return Period{}, fmt.Errorf("expire_in %q must not be negative", raw)
	case d == 0:
		return Period{Immediate: true}, nil
	}
	return Period{Duration: d}, nil
}
