package storage

import (
	"net"
	"regexp"
	"strings"
)

var containerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// IsValidContainerName applies the S3 bucket naming rules, which are the
// strictest of the supported backends.
func IsValidContainerName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}

	// Must consist only of lowercase letters, digits, dots, or hyphens,
	// and must start and end with a letter or digit.
	if !containerNamePattern.MatchString(name) {
		return false
	}

	// Disallow patterns like "..", ".-", "-.".
	if strings.Contains(name, "..") {
		return false
	}

	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}

	// Container name must not be formatted as an IPv4 address.
	return net.ParseIP(name) == nil
}

// IsValidKey enforces basic object key constraints: non-empty, at most 1024
// bytes, and no control characters.
func IsValidKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}

	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}
