package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseAddress decodes a 20-byte hex address, accepting an optional 0x
// prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address %q: want %d bytes, got %d", raw, len(addr), len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

// FormatAddress renders an address as lowercase hex without prefix.
func FormatAddress(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}
