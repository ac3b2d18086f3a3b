package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/deptkpi/kpi/internal/auth"
	"github.com/deptkpi/kpi/internal/config"
	"github.com/deptkpi/kpi/internal/employee"
	"github.com/deptkpi/kpi/internal/frequency"
	httpmiddleware "github.com/deptkpi/kpi/internal/http/middleware"
	"github.com/deptkpi/kpi/internal/http/render"
	"github.com/deptkpi/kpi/internal/indicator"
	"github.com/deptkpi/kpi/internal/indicatordata"
	"github.com/deptkpi/kpi/internal/reference"
	"github.com/deptkpi/kpi/internal/repo"
	"github.com/deptkpi/kpi/internal/service"
)

const summaryCacheTTL = 60 * time.Second

type authenticator interface {
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	Refresh(ctx context.Context, rawToken string) (*service.LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Session(ctx context.Context, userID uuid.UUID) (service.Session, error)
	AccessTTL() time.Duration
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

type redisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Handler serves the endpoints that are not owned by a domain package: health,
// readiness and the session lifecycle.
type Handler struct {
	auth         authenticator
	db           dbPinger
	redis        redisPinger
	readyTimeout time.Duration
	cookieSecure bool
}

// NewRouter wires every domain package behind the shared middleware chain.
func NewRouter(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, jwtMgr *auth.JWTManager, authService *service.AuthService) http.Handler {
	h := &Handler{
		auth:         authService,
		db:           pool,
		redis:        redisClient,
		readyTimeout: cfg.DBTimeout,
		cookieSecure: cfg.CookieSecure,
	}

	publicLimiter := httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst)
	authLimiter := httpmiddleware.NewRateLimiter(cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst)
	queries := repo.New(pool)

	planners := []auth.Access{auth.AccessAdmin, auth.AccessPlanner}
	admins := []auth.Access{auth.AccessAdmin}
	summaries := indicatordata.NewInvalidator(redisClient)

	// categories and units are maintained by planners, the rest by admins only
	referenceWriters := map[string][]auth.Access{
		reference.Category.Route: planners,
		reference.Unit.Route:     planners,
	}
	refRepo := reference.NewRepository(pool)
	references := make([]*reference.Handler, 0, len(reference.Kinds))
	for _, kind := range reference.Kinds {
		writers, ok := referenceWriters[kind.Route]
		if !ok {
			writers = admins
		}
		svc := reference.NewService(refRepo, kind).WithSummaryInvalidator(summaries)
		references = append(references, reference.NewHandler(svc, writers...))
	}

	frequencyService := frequency.NewService(frequency.NewRepository(pool)).WithSummaryInvalidator(summaries)
	frequencyHandler := frequency.NewHandler(frequencyService, planners...)
	indicatorService := indicator.NewService(indicator.NewRepository(pool)).WithSummaryInvalidator(summaries)
	indicatorHandler := indicator.NewHandler(indicatorService, planners...)
	dataService := indicatordata.NewService(indicatordata.NewRepository(pool)).WithCache(redisClient, summaryCacheTTL)
	dataHandler := indicatordata.NewHandler(dataService)
	employeeService := employee.NewService(employee.NewRepository(pool)).WithSummaryInvalidator(summaries)
	employeeHandler := employee.NewHandler(employeeService, admins...)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))

	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.IPRateLimit(publicLimiter))

		public.Get("/health", h.Health)
		public.Get("/ready", h.Ready)

		public.Route("/api/auth", func(a chi.Router) {
			a.Post("/login", h.Login)
			a.Post("/refresh", h.Refresh)
			a.Post("/logout", h.Logout)
			a.With(httpmiddleware.Auth(jwtMgr), httpmiddleware.RequireActive(queries)).Get("/session", h.Session)
		})
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.Auth(jwtMgr))
		private.Use(httpmiddleware.RequireActive(queries))
		private.Use(httpmiddleware.UserRateLimit(authLimiter))

		private.Route("/api", func(api chi.Router) {
			reference.Mount(api, references...)
			frequency.Mount(api, frequencyHandler)
			indicator.Mount(api, indicatorHandler)
			indicatordata.Mount(api, dataHandler)
			employee.Mount(api, employeeHandler)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Error(w, http.StatusNotFound, "ไม่พบเส้นทางที่เรียก")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Error(w, http.StatusMethodNotAllowed, "ไม่รองรับวิธีการเรียกนี้")
	})

	return r
}

// Health answers as long as the process is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready checks Postgres and Redis.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	timeout := h.readyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	dbErr := h.db.Ping(ctx)
	redisErr := h.redis.Ping(ctx).Err()

	if dbErr != nil || redisErr != nil {
		render.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"db":    errorString(dbErr),
			"redis": errorString(redisErr),
		})
		return
	}

	render.JSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
