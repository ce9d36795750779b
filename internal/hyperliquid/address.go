package hyperliquid

import (
	"fmt"
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NormalizeAddress lowercases and validates an Ethereum-style address.
// Every address the client consumes passes through here first.
func NormalizeAddress(address string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if !addressPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid address %q: expected 0x followed by 40 hex characters", address)
	}
	return normalized, nil
}

// IsValidAddress reports whether address (in any case) is a well-formed
// Ethereum-style address.
func IsValidAddress(address string) bool {
	_, err := NormalizeAddress(address)
	return err == nil
}
