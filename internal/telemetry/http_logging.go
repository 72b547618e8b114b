package telemetry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/movie_request_server/internal/logctx"
)

// pollPaths are hit by orchestrators and scrapers; successful calls log at debug.
var pollPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// HTTPLogging logs every request once it completes: 5xx at error, 4xx at warn, the rest at
// info. The request id and trace id are added by the log handler from the context.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		wrapped := wrapResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		status := wrapped.status
		level := slog.LevelInfo

		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case pollPaths[r.URL.Path]:
			level = slog.LevelDebug
		}

		logctx.LoggerFromContext(ctx).Log(ctx, level, "http request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"route", routePattern(r),
			"status", status,
			"bytes", wrapped.bytesWritten,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// routePattern returns the matched chi pattern, falling back to the raw path outside a router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}

	return r.URL.Path
}
