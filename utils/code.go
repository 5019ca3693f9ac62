package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

// CodeAlphabet excludes the look-alike symbols 0, O, I and l.
const CodeAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// tunnelAlphabet is the uppercase part of CodeAlphabet. Tunnel codes are
// case-insensitive, so drawing from it keeps them free of look-alikes too.
const tunnelAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	// TunnelCodeLength is used for text and file tunnels.
	TunnelCodeLength = 8
	// ShortCodeLength is used for short links.
	ShortCodeLength = 6

	minTunnelCodeLength = 3
	maxTunnelCodeLength = 20
)

// GenerateCode creates a random code of n symbols drawn uniformly from CodeAlphabet.
// Uniqueness is not guaranteed; callers rely on the store for that.
func GenerateCode(n int) string {
	return randomString(CodeAlphabet, n)
}

// GenerateTunnelCode returns an uppercase tunnel code. Tunnel lookups are
// case-insensitive, so the stored form must be uppercase to be found again.
func GenerateTunnelCode() string {
	return randomString(tunnelAlphabet, TunnelCodeLength)
}

func randomString(alphabet string, n int) string {
	if n <= 0 {
		n = TunnelCodeLength
	}
	size := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		// crypto/rand for better unpredictability
		v, err := rand.Int(rand.Reader, size)
		if err != nil {
			// fallback to time based modulo if crypto fails
			v = big.NewInt(time.Now().UnixNano() % int64(len(alphabet)))
		}
		out[i] = alphabet[v.Int64()]
	}
	return string(out)
}

// NormalizeTunnelCode strips non-alphanumerics and uppercases the rest.
// It returns false when fewer than 3 characters remain; longer codes are cut at 20.
func NormalizeTunnelCode(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) < minTunnelCodeLength {
		return "", false
	}
	if len(code) > maxTunnelCodeLength {
		code = code[:maxTunnelCodeLength]
	}
	return code, true
}

// NormalizeAlias lowercases and keeps only [a-z0-9-].
func NormalizeAlias(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
