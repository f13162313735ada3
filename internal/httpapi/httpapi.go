package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/obs"
	"tokocabang/backend/internal/service"
)

type Options struct {
	AllowedOrigin      string
	DefaultBranchID    string
	RateLimitPerMinute int
	Production         bool
	Metrics            *obs.Metrics
	Gatherer           prometheus.Gatherer
	Logger             zerolog.Logger
}

type API struct {
	service    *service.Service
	auth       *AuthManager
	opts       Options
	validate   *validator.Validate
	csrfSecret []byte
	logger     zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "main-branch"
	}
	return &API{
		service:    svc,
		auth:       auth,
		opts:       opts,
		validate:   validator.New(),
		csrfSecret: csrfSecret,
		logger:     opts.Logger,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the token of the current or the previous hour
// bucket, giving a two hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.opts.Metrics.Middleware)
	r.Use(obs.RequestLogger{Logger: a.logger}.Middleware)
	r.Use(secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           a.opts.Production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	}).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.opts.AllowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(limitBody)
	if a.opts.RateLimitPerMinute > 0 {
		r.Use(httprate.Limit(a.opts.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests)))
	}

	r.Get("/healthz", a.handleHealth)
	if a.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	loginLimiter := httprate.Limit(5, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests))
	adminPasswordLimiter := httprate.Limit(8, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests))

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(a.csrf)
		v.With(loginLimiter).Post("/auth/login", a.handleLogin)
		v.Get("/auth/csrf", a.handleCSRFToken)

		v.Group(func(p chi.Router) {
			p.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			p.Get("/branches", a.handleListBranches)
			p.Post("/branches", a.handleCreateBranch)
			p.Get("/customers", a.handleListCustomers)
			p.Post("/customers", a.handleCreateCustomer)
			p.Get("/suppliers", a.handleListSuppliers)
			p.Post("/suppliers", a.handleCreateSupplier)
			p.Get("/products", a.handleListProducts)
			p.Post("/products", a.handleCreateProduct)
			p.Patch("/products/{productID}", a.handleUpdateProduct)

			p.Post("/sales/preview", a.handlePreviewSale)
			p.Post("/sales", a.handleCreateSale)
			p.Get("/sales", a.handleListSales)
			p.Get("/sales/{saleID}", a.handleGetSale)

			p.Get("/dues", a.handleListDues)
			p.Post("/dues", a.handleCreateDue)
			p.Post("/dues/refresh-overdue", a.handleRefreshOverdue)
			p.Get("/dues/{dueID}", a.handleGetDue)
			p.Post("/dues/{dueID}/payments", a.handleApplyPayment)
			p.Get("/payments", a.handleListPayments)

			p.Group(func(guarded chi.Router) {
				guarded.Use(adminPasswordLimiter)
				guarded.Post("/sales/{saleID}/cancel", a.handleCancelSale)
				guarded.Patch("/dues/{dueID}", a.handleUpdateDue)
				guarded.Post("/dues/{dueID}/cancel", a.handleCancelDue)
				guarded.Put("/dues/{dueID}/payments/{paymentID}", a.handleEditPayment)
				guarded.Delete("/dues/{dueID}/payments/{paymentID}", a.handleReversePayment)
			})

			p.Get("/analytics/dashboard", a.handleDashboard)
			p.Get("/analytics/customers.csv", a.handleCustomersCSV)
		})

		v.Group(func(admin chi.Router) {
			admin.Use(a.requireAuth(domain.RoleAdmin))
			admin.Get("/users", a.handleListUsers)
			admin.Post("/users", a.handleCreateUser)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
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

// csrfExemptPaths are called before a client can have fetched a token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// csrf requires a valid X-CSRF-Token on every state-changing request.
func (a *API) csrf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.Method != http.MethodGet {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
}

// actorFrom returns the authenticated actor. Routes behind requireAuth always
// carry one.
func actorFrom(r *http.Request) domain.ActorContext {
	actor, _ := service.ActorFromContext(r.Context())
	return actor
}

// decode reads a JSON body into dest and runs struct validation on it.
func (a *API) decode(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := a.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	return nil
}

// checkAdminPassword verifies a supplied admin password. An empty password is
// left to the service, which rejects it with ErrAdminPasswordRequired.
func (a *API) checkAdminPassword(w http.ResponseWriter, password string) bool {
	if strings.TrimSpace(password) == "" {
		return true
	}
	if !a.auth.ValidateAdminPassword(password) {
		writeError(w, http.StatusForbidden, errors.New("invalid admin password"))
		return false
	}
	return true
}

func parseLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, domain.Invalid("time %q must be RFC 3339 or YYYY-MM-DD", raw)
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	var transport *domain.TransportError
	switch {
	case errors.As(err, &transport):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStaleDueState),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrDueCancelled),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidPaymentAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAdminPasswordRequired),
		errors.Is(err, domain.ErrInvalidTransaction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with its mapped status. Stock shortages are
// returned in full so the client can adjust quantities.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		writeJSON(w, status, map[string]any{
			"error":     err.Error(),
			"kind":      obs.ErrorKind(err),
			"shortages": stockErr.Shortages,
		})
		return
	}
	if status >= 500 {
		writeError(w, status, err)
		return
	}
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"kind":  obs.ErrorKind(err),
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
		var transport *domain.TransportError
		if errors.As(err, &transport) {
			msg = "upstream storage unavailable"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
