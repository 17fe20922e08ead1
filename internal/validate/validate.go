// Package validate implements the shape checks spec.md §4.4 runs on
// untrusted payload fields, independent of and in addition to the
// permission guard: payload size, token shape, IP address shape,
// model-name shape, and repository-path shape.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/GabrielHori/horizon-worker/internal/repoanalyze"
)

// MaxPayloadSize is the default payload cap, matching the Python worker's
// InputValidator default of 1 MiB.
const MaxPayloadSize = 1024 * 1024

const (
	maxTokenLength = 128
	minTokenLength = 8
	maxIPLength    = 45 // IPv6 textual max length
	maxModelName   = 100
)

// PayloadSize reports whether the marshaled size of payload is within limit.
func PayloadSize(payload json.RawMessage, limit int) error {
	if limit <= 0 {
		limit = MaxPayloadSize
	}
	if len(payload) > limit {
		return fmt.Errorf("payload too large (max %d bytes, got %d)", limit, len(payload))
	}
	return nil
}

// Token validates an authentication/session token: length within
// [minLength, maxLength], drawn from [A-Za-z0-9-_=+/.], and exhibiting at
// least two distinct character classes so trivially weak tokens are
// rejected outright.
func Token(token string, minLength, maxLength int) error {
	if maxLength <= 0 {
		maxLength = maxTokenLength
	}
	if minLength <= 0 {
		minLength = minTokenLength
	}
	if strings.TrimSpace(token) == "" {
		return errors.New("token cannot be empty")
	}
	if len(token) < minLength {
		return fmt.Errorf("token too short (min %d characters)", minLength)
	}
	if len(token) > maxLength {
		return fmt.Errorf("token too long (max %d characters)", maxLength)
	}

	var lower, upper, digit, symbol bool
	for _, c := range token {
		switch {
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.ContainsRune("-_=+/.", c):
			symbol = true
		default:
			return errors.New("token contains invalid characters")
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 2 {
		return errors.New("token too weak (needs more character variety)")
	}
	return nil
}

// IPAddress validates that ipStr is a routable, non-loopback, non-multicast,
// non-reserved IPv4 or IPv6 address -- the shape the per-IP allowlist and
// rate limiter key off of.
func IPAddress(ipStr string) error {
	if strings.TrimSpace(ipStr) == "" {
		return errors.New("IP address cannot be empty")
	}
	if len(ipStr) > maxIPLength {
		return errors.New("IP address too long")
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return errors.New("invalid IP address format")
	}
	if ip.IsLoopback() {
		return errors.New("loopback addresses are not allowed")
	}
	if ip.IsMulticast() {
		return errors.New("multicast addresses are not allowed")
	}
	if isReserved(ip) {
		return errors.New("reserved addresses are not allowed")
	}
	return nil
}

// isReserved mirrors Python's ipaddress.is_reserved: link-local, unspecified
// and the documented IANA-reserved ranges.
func isReserved(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		for _, cidr := range []string{"240.0.0.0/4", "0.0.0.0/8"} {
			_, block, _ := net.ParseCIDR(cidr)
			if block.Contains(v4) {
				return true
			}
		}
	}
	return false
}

// ModelName validates an Ollama/airllm model identifier: bounded length,
// drawn from [A-Za-z0-9:._/-], and free of path traversal.
func ModelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("model name cannot be empty")
	}
	if len(name) > maxModelName {
		return errors.New("model name too long")
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune(":._/-", c):
		default:
			return errors.New("model name contains invalid characters")
		}
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return errors.New("model name contains path traversal")
	}
	return nil
}

// RepoPath validates a repository directory path, delegating the existence/
// permission/forbidden-root/depth checks to internal/repoanalyze.
func RepoPath(path string) error {
	return repoanalyze.ValidatePath(path)
}
