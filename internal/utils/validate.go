package utils

import "github.com/google/uuid"

// IsUUID reports whether s parses as a UUID. Handlers use it to reject
// malformed path IDs before touching the database.
func IsUUID(s string) bool {
	return uuid.Validate(s) == nil
}
