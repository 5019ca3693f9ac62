package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIP extracts the visitor IP considering common proxy headers.
// Priority: CF-Connecting-IP > first of X-Forwarded-For > X-Real-IP > gin.ClientIP
func ClientIP(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader("CF-Connecting-IP")); v != "" {
		return stripPort(v)
	}
	if v := strings.TrimSpace(c.GetHeader("X-Forwarded-For")); v != "" {
		first := strings.TrimSpace(strings.Split(v, ",")[0])
		if first != "" {
			return stripPort(first)
		}
	}
	if v := strings.TrimSpace(c.GetHeader("X-Real-IP")); v != "" {
		return stripPort(v)
	}
	return stripPort(c.ClientIP())
}

func stripPort(ip string) string {
	if h, _, err := net.SplitHostPort(ip); err == nil {
		return h
	}
	return ip
}
