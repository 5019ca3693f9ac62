package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitle(t *testing.T) {
	assert.Equal(t, "hello", SanitizeTitle("  <b>hello</b> "))
	assert.Equal(t, "", SanitizeTitle("<script>alert(1)</script>"))
	assert.Equal(t, "plain title", SanitizeTitle("plain title"))
}

func TestNormalizeCountryName(t *testing.T) {
	assert.Equal(t, "Germany", NormalizeCountryName("Germany-Berlin"))
	assert.Equal(t, "Japan", NormalizeCountryName(" Japan Tokyo "))
	assert.Equal(t, "", NormalizeCountryName("  "))
}

func TestGetIPCountrySkipsPrivateAddresses(t *testing.T) {
	for _, ip := range []string{"", "127.0.0.1", "10.1.2.3", "not-an-ip"} {
		country, err := GetIPCountry(t.Context(), ip)
		assert.NoError(t, err, ip)
		assert.Empty(t, country, ip)
	}
}
