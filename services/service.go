// Package services holds the tunnel, link and cleanup logic behind the HTTP handlers.
package services

import (
	"time"

	"github.com/cppla/accesso/config"
	"github.com/cppla/accesso/utils"
)

const maxCodeAttempts = 5

// Limits bounds user supplied payloads.
type Limits struct {
	MaxEntryChars      int
	MaxTunnelChars     int
	MaxFileSize        int64
	DefaultExpiryHours int
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxEntryChars:      50000,
		MaxTunnelChars:     500000,
		MaxFileSize:        10 * 1024 * 1024,
		DefaultExpiryHours: utils.DefaultExpiryHours,
	}
}

// LimitsFromConfig reads limits from the application configuration.
func LimitsFromConfig(cfg config.AppConfig) Limits {
	l := DefaultLimits()
	if cfg.MaxEntryChars > 0 {
		l.MaxEntryChars = cfg.MaxEntryChars
	}
	if cfg.MaxTunnelChars > 0 {
		l.MaxTunnelChars = cfg.MaxTunnelChars
	}
	if cfg.MaxFileSizeMB > 0 {
		l.MaxFileSize = int64(cfg.MaxFileSizeMB) * 1024 * 1024
	}
	if cfg.DefaultExpiryHours > 0 {
		l.DefaultExpiryHours = cfg.DefaultExpiryHours
	}
	return l
}

func (l Limits) expiry(now time.Time, hours int) time.Time {
	if hours <= 0 {
		hours = l.DefaultExpiryHours
	}
	return utils.CalculateExpiry(now, hours)
}

// clock returns UTC wall time unless a test replaced it.
type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
