package http

import (
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sooh59599/zoohub/internal/auth"
	"github.com/sooh59599/zoohub/internal/broker"
	"github.com/sooh59599/zoohub/internal/config"
	"github.com/sooh59599/zoohub/internal/http/handlers"
	"github.com/sooh59599/zoohub/internal/http/middlewares"
	"github.com/sooh59599/zoohub/internal/observability"
	"github.com/sooh59599/zoohub/internal/queue/redisclient"
	"github.com/sooh59599/zoohub/internal/repo/postgres"
	"github.com/sooh59599/zoohub/internal/rulescache"
)

// NewRouter wires the ingestion API: event ingest/lookup, the admin
// surface for rules/circuit breakers/jobs, and the auth endpoints kept
// from the account system. The fan-out consumer, executor, and retry
// scanner run as separate long-lived loops (see cmd/executor) and are
// not mounted here.
func NewRouter(log *slog.Logger, pool *pgxpool.Pool, brk *broker.Client, prom *observability.Prom, cfg config.Config) *gin.Engine {
	cfgEnv := os.Getenv("APP_ENV")

	if cfgEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	redis := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.CORSMiddleware([]string{
		"http://localhost:3000",
	}))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20)) // 1MB max body
	r.Use(middlewares.RequireJSON())

	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
	}

	readyCheck := func() error {
		if pool != nil {
			ctx, cancel := config.WithTimeout(1 * time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				return err
			}
		}

		ctx, cancel := config.WithTimeout(1 * time.Second)
		defer cancel()
		return redis.Ping(ctx)
	}

	h := handlers.NewHealthHandler(readyCheck)

	// wire up repositories
	eventsRepo := postgres.NewEventsRepo(pool, prom)
	rulesRepo := postgres.NewRulesRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)
	circuitRepo := postgres.NewCircuitRepo(pool, prom)
	usersRepo := postgres.NewUsersRepo(pool)
	refreshTokensRepo := postgres.NewRefreshTokensRepo(pool)

	rulesCache := rulescache.New(rulesRepo, time.Duration(cfg.RulesCacheTTLSeconds)*time.Second, redis)

	// JWT manager
	jwtManager := auth.NewManager(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLDays)*24*time.Hour,
	)

	// wire up handlers
	eventsHandler := handlers.NewEventsHandler(eventsRepo, brk)
	rulesHandler := handlers.NewRulesHandler(rulesRepo, rulesCache)
	circuitHandler := handlers.NewCircuitHandler(circuitRepo)
	adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)
	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, jwtManager, refreshTokensRepo, cfg)
	authMiddleware := middlewares.NewAuthMiddleware(jwtManager)

	// rate limiters
	loginLimiter := middlewares.NewRateLimiter(5, 1*time.Minute)
	signupLimiter := middlewares.NewRateLimiter(3, 1*time.Minute)
	refreshLimiter := middlewares.NewRateLimiter(10, 1*time.Minute)
	ingestLimiter := middlewares.NewRateLimiter(100, 1*time.Minute)

	// public routes
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if prom != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/auth/signup", signupLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.SignUp)
	r.POST("/auth/login", loginLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Login)
	r.POST("/auth/refresh", refreshLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Refresh)
	r.POST("/auth/logout", authHandler.Logout)

	api := r.Group("/api/v1")
	{
		api.POST("/events", ingestLimiter.RateLimiterMiddleware(middlewares.KeyByIP), eventsHandler.IngestEvent)
		api.GET("/events/:id", eventsHandler.GetEventByID)
	}

	// authenticated admin surface: rule/circuit/job management
	admin := r.Group("/admin")
	admin.Use(authMiddleware.RequireAuth(), authMiddleware.RequireRole("admin"))
	{
		admin.POST("/rules", rulesHandler.Create)
		admin.GET("/rules", rulesHandler.List)
		admin.PATCH("/rules/:id", rulesHandler.Update)
		admin.DELETE("/rules/:id", rulesHandler.Delete)

		admin.GET("/circuit", circuitHandler.List)
		admin.POST("/circuit/:key/reset", circuitHandler.Reset)

		admin.GET("/jobs", adminJobsHandler.List)
		admin.GET("/jobs/:id", adminJobsHandler.GetByID)
		admin.POST("/jobs/:id/retry", adminJobsHandler.Retry)
		admin.POST("/jobs/reprocess-dead", adminJobsHandler.ReprocessDead)
	}

	return r
}
