package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Timing logs the wall-clock duration of every request once it completes.
func Timing(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			logger.Info("Endpoint executed",
				"path", r.URL.Path,
				"method", r.Method,
				"status", ww.Status(),
				"seconds", elapsed.Seconds(),
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
		})
	}
}
