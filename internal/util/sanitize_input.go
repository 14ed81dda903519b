package util

import (
	"net"
	"strings"
)

// NormalizeEmail lowercases and trims an email address so that hashing and
// lookups are stable regardless of how the caller typed it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail is a cheap shape check, not RFC validation; the upstream
// application owns real address verification.
func ValidEmail(email string) bool {
	email = NormalizeEmail(email)
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}

// NormalizeAddress canonicalizes a source IP address. Values that do not
// parse as an IP are trimmed and returned as-is so proxies sending
// host:port pairs still produce a stable key.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return addr
}
