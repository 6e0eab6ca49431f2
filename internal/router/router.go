package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/app"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/scoring"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/setting"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs each request; server errors at warn, the rest at debug.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			log := logger.Debugw
			if status >= http.StatusInternalServerError {
				log = logger.Warnw
			}
			log("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only over TLS; 30 days
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler answers 200 "ok", or 503 when the database ping fails.
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				utilities.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// RegisterRoutes mounts every endpoint under prefix on a ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, a *app.App, prefix string) http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.Handle(method+" "+prefix+path, h)
	}
	open := func(pattern string, h http.HandlerFunc) { route(pattern, h) }
	authed := func(pattern string, h http.HandlerFunc) { route(pattern, a.Auth.Require(h)) }
	admin := func(pattern string, h http.HandlerFunc) { route(pattern, a.Auth.RequireAdmin(h)) }

	var pinger Pinger
	if a.DB != nil {
		pinger = a.DB
	}
	open("GET /health", HealthHandler(pinger))
	route("GET /metrics", promhttp.Handler())

	users := user.NewHandler(a.Users, a.Tokens, logger.Named("user"))
	open("POST /auth/signup", users.Signup)
	open("POST /auth/login", users.Login)
	open("POST /auth/refresh", users.Refresh)
	open("POST /auth/logout", users.Logout)
	authed("GET /auth/me", users.Me)
	authed("PATCH /auth/me", users.UpdateMe)
	authed("POST /auth/password", users.ChangePassword)
	admin("GET /admin/users", users.List)
	admin("POST /admin/users/{id}/borrowing-limit", users.SetBorrowingLimit)
	admin("POST /admin/users/{id}/deactivate", users.Deactivate)
	admin("POST /admin/users/{id}/reactivate", users.Reactivate)

	books := catalog.NewHandler(a.Catalog, logger.Named("catalog"))
	open("GET /books", books.Search)
	open("GET /books/popular", books.Popular)
	open("GET /books/{id}", books.Get)
	open("GET /books/{id}/statistics", books.Statistics)
	open("GET /categories", books.Categories)
	admin("POST /books", books.Create)
	admin("PATCH /books/{id}", books.Update)
	admin("DELETE /books/{id}", books.Deactivate)
	admin("POST /categories", books.CreateCategory)

	borrowing := ledger.NewHandler(a.Ledger, logger.Named("ledger"))
	authed("POST /borrowing/borrow", borrowing.Borrow)
	authed("POST /borrowing/bulk-borrow", borrowing.BulkBorrow)
	authed("POST /borrowing/returns/{id}", borrowing.Return)
	authed("POST /borrowing/bulk-return", borrowing.BulkReturn)
	authed("POST /borrowing/renew/{id}", borrowing.Renew)
	authed("GET /borrowing/current", borrowing.Current)
	authed("GET /borrowing/history", borrowing.History)
	authed("GET /borrowing/overdue", borrowing.Overdue)

	scores := scoring.NewHandler(a.Scores, logger.Named("scoring"))
	authed("GET /credit-score", scores.Get)
	authed("POST /credit-score/recompute", scores.Recompute)
	admin("POST /credit-score/external", scores.SyncExternal)

	notices := notification.NewHandler(a.Notifications, logger.Named("notification"))
	authed("GET /notifications/preferences", notices.GetPreferences)
	authed("PUT /notifications/preferences", notices.UpdatePreferences)
	authed("GET /notifications/queue", notices.Queue)
	admin("POST /admin/notifications", notices.Enqueue)
	admin("GET /admin/notifications/stats", notices.Stats)
	admin("POST /admin/notifications/dispatch", notices.Dispatch)

	reports := reporting.NewHandler(a.Reports, logger.Named("reporting"))
	authed("GET /dashboard", reports.Dashboard)
	admin("GET /admin/dashboard", reports.AdminDashboard)
	admin("GET /admin/reports/popular", reports.Popular)
	admin("GET /admin/reports/inventory", reports.Inventory)
	admin("GET /admin/reports/overdue", reports.Overdue)
	admin("GET /admin/reports/trending", reports.Trending)
	admin("GET /admin/reports/daily", reports.Daily)
	admin("POST /admin/reports/daily", reports.GenerateDaily)

	settings := setting.NewHandler(a.Settings, logger.Named("setting"))
	authed("GET /settings", settings.List)
	admin("PUT /settings/{key}", settings.Put)
	admin("DELETE /settings/{key}", settings.Delete)

	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
}
