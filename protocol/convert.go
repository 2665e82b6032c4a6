package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseUID normalizes a tag UID to colon-separated uppercase hex.
// Accepts "04:AB:CD:EF", "04ABCDEF", "04 AB CD EF" and "04-AB-CD-EF".
func ParseUID(uid string) (string, error) {
	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(uid)
	if cleaned == "" {
		return "", fmt.Errorf("empty UID")
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return "", fmt.Errorf("invalid UID %q: %w", uid, err)
	}
	return FormatUID(raw), nil
}

// FormatUID renders raw UID bytes as colon-separated uppercase hex.
func FormatUID(raw []byte) string {
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
