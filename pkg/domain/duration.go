package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ParsePeriod parses integer-plus-unit duration strings used in policy
// definitions: "30d", "2w", "6m", "1y". Units: d=day, w=week, m=30 days,
// y=365 days.
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: period %q", ErrInvalidInput, s)
	}

	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: period %q", ErrInvalidInput, s)
	}

	day := 24 * time.Hour
	switch unit {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	case 'm':
		return time.Duration(n) * 30 * day, nil
	case 'y':
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, fmt.Errorf("%w: period unit %q", ErrInvalidInput, string(unit))
	}
}

// Period is a duration carried in definitions as an integer-plus-unit string
// ("30d", "2w", "6m", "1y"). Strings outside that grammar fall back to Go
// duration syntax ("1h30m"), so sub-day cooldowns stay expressible.
type Period time.Duration

// Duration returns the period as a time.Duration.
func (p Period) Duration() time.Duration {
	return time.Duration(p)
}

// String renders the period with the largest unit that divides it exactly,
// falling back to Go duration syntax.
func (p Period) String() string {
	d := time.Duration(p)
	day := 24 * time.Hour
	switch {
	case d == 0:
		return "0d"
	case d < 0 || d%day != 0:
		return d.String()
	case d%(365*day) == 0:
		return strconv.FormatInt(int64(d/(365*day)), 10) + "y"
	case d%(30*day) == 0:
		return strconv.FormatInt(int64(d/(30*day)), 10) + "m"
	case d%(7*day) == 0:
		return strconv.FormatInt(int64(d/(7*day)), 10) + "w"
	default:
		return strconv.FormatInt(int64(d/day), 10) + "d"
	}
}

func parsePeriodString(s string) (time.Duration, error) {
	if d, err := ParsePeriod(s); err == nil {
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: period %q", ErrInvalidInput, s)
	}
	return d, nil
}

// UnmarshalYAML accepts period strings and bare nanosecond integers.
func (p *Period) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var ns int64
		if err := value.Decode(&ns); err != nil {
			return err
		}
		*p = Period(ns)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	d, err := parsePeriodString(raw)
	if err != nil {
		return err
	}
	*p = Period(d)
	return nil
}

func (p Period) MarshalYAML() (any, error) {
	return p.String(), nil
}

// UnmarshalJSON accepts period strings and bare nanosecond numbers.
func (p *Period) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		d, err := parsePeriodString(raw)
		if err != nil {
			return err
		}
		*p = Period(d)
		return nil
	}
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return err
	}
	*p = Period(ns)
	return nil
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}
