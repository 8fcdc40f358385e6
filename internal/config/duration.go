package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationPart = regexp.MustCompile(`(\d+(?:\.\d+)?)([a-zµ]+)`)

// ParseDuration parses Go duration strings extended with d (day) and w
// (week) units, e.g. "7d", "1w2d", "36h", "1d12h30m".
// A bare number is interpreted in bareUnit; a zero bareUnit rejects it.
func ParseDuration(s string, bareUnit time.Duration) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if bareUnit == 0 {
			return 0, fmt.Errorf("duration %q needs a unit", s)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(n * float64(bareUnit)), nil
	}

	parts := durationPart.FindAllStringSubmatch(s, -1)
	consumed := 0
	var total time.Duration
	for _, p := range parts {
		consumed += len(p[0])
		n, err := strconv.ParseFloat(p[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		switch p[2] {
		case "w":
			total += time.Duration(n * float64(7*24*time.Hour))
		case "d":
			total += time.Duration(n * float64(24*time.Hour))
		default:
			d, err := time.ParseDuration(p[0])
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			total += d
		}
	}
	if len(parts) == 0 || consumed != len(s) {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return total, nil
}
