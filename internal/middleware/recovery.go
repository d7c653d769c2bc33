package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"listingsync/pkg/apierror"
)

// Recovery is a middleware that recovers from panics.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[HTTP] PANIC on %s %s: %v\n%s", r.Method, r.URL.Path, err, debug.Stack())
				writeError(w, r, apierror.InternalError("internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
