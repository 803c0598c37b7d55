package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier with the given prefix ("call" -> "call_<uuid>").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}

	return prefix + "_" + id
}

// SanitizeName replaces characters that are not valid in tool names with '_'.
func SanitizeName(s string) string {
	var b strings.Builder

	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	return b.String()
}
