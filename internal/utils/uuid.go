package utils

import "github.com/google/uuid"

// IsUUID reports whether s parses as any RFC 4122 UUID, the cheap guard
// every path-param handler runs before touching the database.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
