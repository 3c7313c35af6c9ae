// Package handlers exposes the engine entry points over HTTP. Mutating routes are signed by
// every key the entry point needs; read routes are open.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/gameledger/api/metrics"
	"github.com/malbeclabs/gameledger/engine/pkg/engine"
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"golang.org/x/time/rate"
)

type Config struct {
	Logger       *slog.Logger
	Engine       *engine.Engine
	Clock        clockwork.Clock
	MaxClockSkew time.Duration
	// Limiter throttles signed requests per first signer. Nil uses 120 requests per minute
	// with a burst of 20.
	Limiter *RateLimiter
	// Nonces rejects replayed signed requests. Nil keeps nonces in process.
	Nonces         NonceStore
	AllowedOrigins []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = 5 * time.Minute
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(rate.Every(time.Minute/120), 20)
	}
	if cfg.Nonces == nil {
		cfg.Nonces = NewMemoryNonceStore(cfg.Clock)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return nil
}

type Handler struct {
	log *slog.Logger
	cfg Config

	mu          sync.RWMutex
	deployments map[string]*engine.Deployment
}

func New(cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handler{
		log:         cfg.Logger,
		cfg:         cfg,
		deployments: make(map[string]*engine.Deployment),
	}, nil
}

func (h *Handler) Limiter() *RateLimiter {
	return h.cfg.Limiter
}

// Router returns the versioned API routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", HeaderSigner, HeaderSignature, HeaderTimestamp, HeaderNonce},
		MaxAge:         300,
	}))

	r.Route("/v1/deployments/{name}", func(r chi.Router) {
		r.Get("/", h.getDeployment)
		r.Get("/funds", h.getFunds)
		r.Get("/settings/{module}", h.getSettings)
		r.Get("/accounts/{owner}", h.getAccount)
		r.Get("/accounts/{owner}/games/{id}", h.getGame)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSignatures)
			r.Use(RateLimitMiddleware(h.cfg.Limiter))

			r.Post("/token/open_account", h.openTokenAccount)
			r.Post("/token/mint", h.mintTokens)
			r.Post("/token/fund_accumulative", h.fundAccumulative)

			r.Post("/ledger/create_wallet", h.createWallet)
			r.Post("/ledger/mint", h.mintCredits)
			r.Post("/ledger/burn", h.burnCredits)
			r.Post("/ledger/sweep_expired", h.sweepExpired)

			r.Post("/lockvault/lock", h.lock)
			r.Post("/lockvault/collect_accrued", h.collectAccrued)
			r.Post("/lockvault/unlock", h.unlock)

			r.Post("/stakevault/stake", h.stake)
			r.Post("/stakevault/withdraw", h.withdraw)

			r.Post("/treasury/distribute", h.distribute)
			r.Post("/rewardgate/transfer", h.gateTransfer)

			r.Post("/match/start", h.startMatch)
			r.Post("/match/finalize", h.finalizeMatch)

			r.Post("/settings/{module}/{field}", h.updateSetting)
		})
	})
	return r
}

// deployment returns the named deployment, loading it once.
func (h *Handler) deployment(r *http.Request) (*engine.Deployment, error) {
	name := chi.URLParam(r, "name")
	h.mu.RLock()
	d, ok := h.deployments[name]
	h.mu.RUnlock()
	if ok {
		return d, nil
	}
	d, err := h.cfg.Engine.LoadDeployment(r.Context(), name)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.deployments[name] = d
	h.mu.Unlock()
	return d, nil
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func statusFor(kind faults.Kind) int {
	switch kind {
	case faults.KindAccessDenied, faults.KindCapabilityDenied:
		return http.StatusForbidden
	case faults.KindInvalidParameter:
		return http.StatusBadRequest
	case faults.KindOverflow:
		return http.StatusUnprocessableEntity
	case faults.KindStateConflict:
		return http.StatusConflict
	case faults.KindNotYetDue:
		return http.StatusTooEarly
	case faults.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := faults.KindOf(err)
	status := statusFor(kind)
	resp := ErrorResponse{Error: faults.CodeOf(err), Kind: kind.String(), Message: err.Error()}
	if kind == faults.KindUnknown {
		h.log.Error("handlers: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
		resp = ErrorResponse{Error: "internal", Kind: kind.String(), Message: "internal error"}
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("handlers: failed to write response", "error", err)
	}
}
