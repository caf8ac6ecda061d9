package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/akorchagin/eventdesk/internal/audit"
	"github.com/akorchagin/eventdesk/internal/auth"
	"github.com/akorchagin/eventdesk/internal/cache"
	"github.com/akorchagin/eventdesk/internal/config"
	"github.com/akorchagin/eventdesk/internal/http/handlers"
	"github.com/akorchagin/eventdesk/internal/http/middlewares"
	"github.com/akorchagin/eventdesk/internal/observability"
	"github.com/akorchagin/eventdesk/internal/redisclient"
	"github.com/akorchagin/eventdesk/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps carries everything the router wires together. Redis, Registry,
// Prom and Audit may be nil; the affected features degrade quietly.
type Deps struct {
	Log      *slog.Logger
	Pool     *pgxpool.Pool
	Redis    *redisclient.Client
	Registry *prometheus.Registry
	Prom     *observability.Prom
	Audit    *audit.Writer
}

func NewRouter(deps Deps, cfg config.Config) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(deps.Log))

	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}

	if cfg.OTELEnabled {
		r.Use(otelgin.Middleware("eventdesk"))
	}

	// health
	ping := func() error {
		if deps.Pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return deps.Pool.Ping(ctx)
	}

	health := handlers.NewHealthHandler(ping)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(deps.Pool)
	eventsRepo := postgres.NewEventsRepo(deps.Pool)
	bookingsRepo := postgres.NewBookingsRepo(deps.Pool, deps.Prom)
	waitlistRepo := postgres.NewWaitlistRepo(deps.Pool, deps.Prom)
	tasksRepo := postgres.NewTasksRepo(deps.Pool, deps.Prom)
	mailingsRepo := postgres.NewMailingsRepo(deps.Pool, deps.Prom)
	settingsRepo := postgres.NewSettingsRepo(deps.Pool)

	jwtManager := auth.NewManager(cfg.JWTSecret, time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute)
	authMW := middlewares.NewAuthMiddleware(jwtManager)

	requireAuth := authMW.RequireAuth()
	requireAdmin := authMW.RequireRole("admin")

	// first-page list cache lives in process; availability rides redis
	listCache := cache.New(time.Duration(cfg.EventsCacheTTLSeconds) * time.Second)

	var availCache *cache.AvailabilityCache
	if deps.Redis != nil {
		availCache = cache.NewAvailabilityCache(
			deps.Redis.Raw(),
			time.Duration(cfg.AvailabilityCacheTTLSeconds)*time.Second,
			deps.Log,
		)
	}

	// wire up handlers
	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, jwtManager)
	eventsHandler := handlers.NewEventsHandler(eventsRepo, listCache, availCache, deps.Audit)
	bookingsHandler := handlers.NewBookingsHandler(bookingsRepo, waitlistRepo, tasksRepo, settingsRepo, availCache, deps.Audit, deps.Prom, cfg)
	waitlistHandler := handlers.NewWaitlistHandler(waitlistRepo, bookingsRepo, tasksRepo, availCache, deps.Audit, deps.Prom)
	tasksHandler := handlers.NewTasksHandler(tasksRepo, deps.Audit, cfg)
	mailingsHandler := handlers.NewMailingsHandler(mailingsRepo, tasksRepo, deps.Audit, cfg)
	settingsHandler := handlers.NewSettingsHandler(settingsRepo, deps.Audit, cfg)

	// credential endpoints are the brute-force surface
	authLimiter := middlewares.NewRateLimiter(cfg.AuthRatePerMinute, time.Minute)

	authGroup := r.Group("/auth")
	authGroup.Use(authLimiter.Middleware(middlewares.KeyByIP))
	authGroup.POST("/signup", authHandler.SignUp)
	authGroup.POST("/login", authHandler.Login)

	// events
	r.GET("/events", requireAuth, eventsHandler.List)
	r.GET("/events/:id", requireAuth, eventsHandler.GetByID)
	r.GET("/events/:id/availability", requireAuth, eventsHandler.Availability)
	r.POST("/events", requireAuth, requireAdmin, eventsHandler.Create)
	r.PUT("/events/:id", requireAuth, requireAdmin, eventsHandler.Update)
	r.DELETE("/events/:id", requireAuth, requireAdmin, eventsHandler.Delete)

	// bookings
	r.POST("/events/:id/bookings", requireAuth, bookingsHandler.Create)
	r.GET("/events/:id/bookings", requireAuth, requireAdmin, bookingsHandler.ListForEvent)
	r.GET("/bookings/:bookingId", requireAuth, bookingsHandler.GetByID)
	r.PUT("/bookings/:bookingId", requireAuth, bookingsHandler.Update)
	r.DELETE("/bookings/:bookingId", requireAuth, requireAdmin, bookingsHandler.Delete)
	r.POST("/bookings/:bookingId/toggle-payment", requireAuth, requireAdmin, bookingsHandler.TogglePaid)
	r.POST("/bookings/:bookingId/toggle-attendance", requireAuth, requireAdmin, bookingsHandler.ToggleAttended)

	// waitlist
	r.GET("/events/:id/waitlist", requireAuth, requireAdmin, waitlistHandler.ListForEvent)
	r.PUT("/waitlist/:entryId", requireAuth, requireAdmin, waitlistHandler.Reposition)
	r.DELETE("/waitlist/:entryId", requireAuth, requireAdmin, waitlistHandler.Remove)
	// claims arrive in bursts right after a notify fan-out
	claimLimiter := middlewares.NewRateLimiter(cfg.ClaimRatePerMinute, time.Minute)
	r.POST("/waitlist/:entryId/claim", requireAuth,
		claimLimiter.Middleware(middlewares.KeyByUserOrIP), waitlistHandler.Claim)

	// channel pollers
	r.GET("/tasks", requireAuth, requireAdmin, tasksHandler.Poll)
	r.POST("/tasks/:id/complete", requireAuth, requireAdmin, tasksHandler.Complete)

	// mailings
	r.POST("/mailings", requireAuth, requireAdmin, mailingsHandler.Create)
	r.GET("/mailings", requireAuth, requireAdmin, mailingsHandler.List)
	r.GET("/mailings/:id", requireAuth, requireAdmin, mailingsHandler.GetByID)
	r.PUT("/mailings/:id", requireAuth, requireAdmin, mailingsHandler.Update)
	r.DELETE("/mailings/:id", requireAuth, requireAdmin, mailingsHandler.Delete)

	// settings
	r.GET("/settings/waitlist-auto-promote", requireAuth, requireAdmin, settingsHandler.GetAutoPromote)
	r.PUT("/settings/waitlist-auto-promote", requireAuth, requireAdmin, settingsHandler.PutAutoPromote)

	return r
}
