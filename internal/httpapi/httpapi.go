// Package httpapi exposes the ledger over REST and receives provider
// webhooks.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/service"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

// Allow records an attempt for key and reports whether it is within the
// sliding window budget.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]time.Time, 0, len(l.entries[key]))
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{RoleCashier, RoleManager, RoleAdmin}
	supervisors := []string{RoleManager, RoleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/payment-methods", a.requireAuth(a.handlePaymentMethods, staff...))

	mux.HandleFunc("POST /api/v1/transactions", a.requireAuth(a.handleCreateTransaction, staff...))
	mux.HandleFunc("GET /api/v1/transactions/{id}", a.requireAuth(a.handleGetTransaction, staff...))
	mux.HandleFunc("POST /api/v1/transactions/{id}/payments", a.requireAuth(a.handleApplyPayments, staff...))
	mux.HandleFunc("POST /api/v1/transactions/{id}/split", a.requireAuth(a.handleSplit, staff...))
	mux.HandleFunc("POST /api/v1/transactions/{id}/refund", a.requireAuth(a.handleRefund, supervisors...))
	mux.HandleFunc("POST /api/v1/transactions/{id}/void", a.requireAuth(a.handleVoid, supervisors...))

	mux.HandleFunc("POST /api/v1/shifts", a.requireAuth(a.handleShiftOpen, staff...))
	mux.HandleFunc("GET /api/v1/shifts/{id}", a.requireAuth(a.handleShiftGet, staff...))
	mux.HandleFunc("POST /api/v1/shifts/{id}/close", a.requireAuth(a.handleShiftClose, staff...))
	mux.HandleFunc("POST /api/v1/shifts/{id}/cash-movements", a.requireAuth(a.handleCashMovement, staff...))

	mux.HandleFunc("GET /api/v1/stock/{product_id}", a.requireAuth(a.handleStockLevel, staff...))
	mux.HandleFunc("GET /api/v1/stock/{product_id}/movements", a.requireAuth(a.handleStockMovements, supervisors...))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, supervisors...))

	mux.HandleFunc("POST /webhooks/midtrans", a.handleWebhook(payment.ProviderMidtrans, payment.WebhookKindCallback))
	mux.HandleFunc("POST /webhooks/xendit", a.handleWebhook(payment.ProviderXendit, payment.WebhookKindCallback))
	mux.HandleFunc("POST /webhooks/xendit/payment-requests", a.handleWebhook(payment.ProviderXendit, payment.WebhookKindPaymentRequests))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeStatus(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeStatus(w, http.StatusUnauthorized, err.Error())
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeStatus(w, http.StatusForbidden, "forbidden role")
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// checkManagerPIN enforces the supervisor PIN on destructive operations.
// It writes the rejection itself and reports whether to continue.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		writeStatus(w, http.StatusTooManyRequests, "too many manager pin attempts")
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		writeStatus(w, http.StatusForbidden, "invalid manager pin")
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("http request")
	})
}

// decodeJSON reads one JSON document into dest and checks its validate
// tags. Every failure is a validation error.
func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return domain.Validation("invalid JSON body: %v", err)
	}
	return domain.Validate(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps the stable error codes onto HTTP statuses. Anything that
// is not a business error is a 500.
func statusFor(err error) int {
	code, ok := domain.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound, domain.CodeTransactionNotFound:
		return http.StatusNotFound
	case domain.CodeShiftNotOpen, domain.CodeInsufficientStock, domain.CodeRefundNotAllowed, domain.CodeVoidNotAllowed:
		return http.StatusConflict
	case domain.CodeWebhookUnauthorized:
		return http.StatusUnauthorized
	case domain.CodePaymentGateway:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError renders business errors with their code and details. Other
// errors are logged and answered with a generic message so driver and
// network details never reach the client.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var derr *domain.Error
	if !errors.As(err, &derr) {
		log.Error().Err(err).Int("status", status).Msg("internal error")
		writeJSON(w, status, errorBody{Error: "internal server error", Code: "INTERNAL"})
		return
	}
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Str("code", string(derr.Code)).Msg("upstream failure")
	}
	writeJSON(w, status, errorBody{Error: derr.Error(), Code: string(derr.Code), Details: derr.Details})
}

// writeStatus answers transport-level rejections such as auth and rate
// limiting that carry no business code.
func writeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Int("status", status).Msg("encode response")
	}
}
