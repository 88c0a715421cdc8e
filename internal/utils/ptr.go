package utils

import "time"

func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the pointed-to value, or the zero value for nil.
func Deref[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

// Timestamp formats t as the RFC 3339 UTC text stored in every *_at column.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
