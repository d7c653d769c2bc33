package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"listingsync/pkg/apierror"
)

// AdminKeyHeader carries the admin key.
const AdminKeyHeader = "X-Admin-Key"

// NewAdminAuth guards a route group with a shared admin key, accepted in
// X-Admin-Key or as a Bearer token. An empty key disables the group.
func NewAdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				writeError(w, r, apierror.ServiceUnavailable("Admin API disabled: ADMIN_KEY is not set"))
				return
			}

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if key == "" {
				writeError(w, r, apierror.Unauthorized("Authentication required. Use the X-Admin-Key header."))
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
				writeError(w, r, apierror.Unauthorized("Invalid admin key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, r *http.Request, err *apierror.Error) {
	err.WithRequestID(GetRequestID(r.Context()))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}
