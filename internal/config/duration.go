package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// day, month, and year durations used by the custom suffix grammar: a
// calendar month is approximated as 30.44 days and a year as 365.25 days,
// the same approximation used elsewhere for human-friendly retention
// windows.
const (
	day   = 24 * time.Hour
	month = time.Duration(float64(day) * 30.44)
	year  = time.Duration(float64(day) * 365.25)
)

// MinRetention is the minimum accepted debug-trace retention window. Below
// this, rotation would discard trace files faster than they could plausibly
// be read. Unlike MinRetention, Integration.PollInterval has no such floor:
// a sub-second poll interval is unusual but not unsafe.
const MinRetention = time.Second

// Duration wraps time.Duration with YAML parsing of the broker's duration
// grammar: standard Go suffixes (ns, us, ms, s, m, h) plus "d" (days), "M"
// (a 30.44-day month), and "y" (a 365.25-day year).
type Duration struct {
	time.Duration
}

// ParseDuration parses one duration literal, e.g. "1h", "30m", "7d", "2M",
// "1y".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config: empty duration")
	}

	unit := s[len(s)-1:]
	switch unit {
	case "d":
		return parseUnit(s, unit, day)
	case "M":
		return parseUnit(s, unit, month)
	case "y":
		return parseUnit(s, unit, year)
	default:
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		return d, nil
	}
}

func parseUnit(s, unit string, unitSize time.Duration) (time.Duration, error) {
	numPart := strings.TrimSuffix(s, unit)
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	return time.Duration(n * float64(unitSize)), nil
}

// UnmarshalYAML implements yaml.Unmarshaler (yaml.v3 node-based API).
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
