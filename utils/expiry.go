package utils

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultExpiryHours applies when no usable expiry is supplied.
	DefaultExpiryHours = 24
	// MaxExpiryHours caps client supplied lifetimes at ten years.
	MaxExpiryHours = 10 * 365 * 24
)

// CalculateExpiry returns now + hours. Non-positive hours fall back to the default;
// anything above MaxExpiryHours is clamped to it.
func CalculateExpiry(now time.Time, hours int) time.Time {
	if hours <= 0 {
		hours = DefaultExpiryHours
	}
	if hours > MaxExpiryHours {
		hours = MaxExpiryHours
	}
	return now.UTC().Add(time.Duration(hours) * time.Hour)
}

// IsExpired reports whether now is at or past the expiry instant.
func IsExpired(now, expiresAt time.Time) bool {
	return !now.Before(expiresAt)
}

// ParseExpiresIn accepts a JSON number, a numeric string, or nothing.
// Anything unparseable yields 0, which CalculateExpiry treats as the default.
func ParseExpiresIn(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return hoursFromFloat(t)
	case int:
		return t
	case int64:
		if t > MaxExpiryHours {
			return MaxExpiryHours
		}
		return int(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return hoursFromFloat(f)
		}
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return hoursFromFloat(f)
		}
	}
	return 0
}

// hoursFromFloat truncates f, saturating values an int cannot hold.
func hoursFromFloat(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f > MaxExpiryHours:
		return MaxExpiryHours
	case f < 0:
		return 0
	}
	return int(f)
}
