package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizeUID upper-cases a hex card identifier and strips separators
// some readers put between bytes.
func NormalizeUID(uid string) string {
	uid = strings.TrimSpace(uid)
	uid = strings.NewReplacer(":", "", "-", "", " ", "").Replace(uid)
	return strings.ToUpper(uid)
}

// GenerateRequestID returns an identifier for correlating remote calls
func GenerateRequestID() string {
	return uuid.NewString()
}

// GenerateShortUUID generates a short UUID (8 characters) for prompt ids
func GenerateShortUUID() string {
	fullUUID := uuid.New().String()
	// Take first 8 characters for a short but still unique identifier
	return strings.ReplaceAll(fullUUID[:8], "-", "")
}
