package middleware

import (
	"context"
	"net/http"

	"github.com/AdamBeresnev/cuptrack/internal/calendar"
	"github.com/AdamBeresnev/cuptrack/internal/httputil"
	"github.com/AdamBeresnev/cuptrack/internal/instance"
)

type ContextKey string

const (
	TodayKey ContextKey = "today"
	RoleKey  ContextKey = "instanceRole"
)

// Today pins the calendar day for the whole request, so every date check
// in one request agrees even across midnight.
func Today(today func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), TodayKey, today())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetToday returns the pinned day, or today in UTC outside a request.
func GetToday(ctx context.Context) string {
	if v, ok := ctx.Value(TodayKey).(string); ok && v != "" {
		return v
	}
	return calendar.Today(nil)
}

// RoleSource reports whether this process owns the data directory.
type RoleSource interface {
	Role() instance.Role
}

// RequireOwner rejects requests when another process owns the data
// directory. Guests have no database to serve from.
func RequireOwner(src RoleSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := src.Role()
			if role != instance.RoleOwner {
				httputil.JSON(w, http.StatusConflict, map[string]string{
					"error": "another cuptrack instance owns this data directory",
					"role":  role.String(),
				})
				return
			}
			ctx := context.WithValue(r.Context(), RoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetRole(ctx context.Context) instance.Role {
	role, _ := ctx.Value(RoleKey).(instance.Role)
	return role
}
