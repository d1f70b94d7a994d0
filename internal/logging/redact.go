package logging

import "go.uber.org/zap"

// truncateLen is how many leading characters of an identifier survive into
// logs. Eight hex characters keep requests correlatable without logging a
// value that identifies a device or session on its own.
const truncateLen = 8

// Truncated returns a zap field carrying only the first few characters of an
// identifier such as a client hash or session id.
func Truncated(key, value string) zap.Field {
	return zap.String(key, Truncate(value))
}

// Truncate shortens an identifier for logging.
func Truncate(value string) string {
	if len(value) <= truncateLen {
		return value
	}
	return value[:truncateLen] + "..."
}
