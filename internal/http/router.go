// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, compression, and rate limiting, then mounts the
// REST API and the per-case WebSocket endpoint.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/dermassist/telederm-backend/internal/ai"
	"github.com/dermassist/telederm-backend/internal/config"
	"github.com/dermassist/telederm-backend/internal/http/handlers"
	"github.com/dermassist/telederm-backend/internal/http/middleware"
	"github.com/dermassist/telederm-backend/internal/realtime"
	"github.com/dermassist/telederm-backend/internal/services"
	"github.com/dermassist/telederm-backend/internal/session"
)

// Deps carries everything the router needs injected.
type Deps struct {
	DB       *gorm.DB
	AI       ai.Generator
	Hub      *realtime.Hub
	Sessions *session.Store
	Verifier realtime.TokenVerifier
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS and security headers, health and metrics endpoints, then mounts the
// versioned public API under /api/v* and the WebSocket endpoint under /ws.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression
//  7. Metrics
//  8. Rate limiter (per user/IP; WebSocket upgrades bypass)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. Patient identifiers travel in
	// headers in the demo auth setup, so they are masked wholesale.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-User-ID",
			"X-Api-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (12 MiB, image uploads included)
	r.Use(limitBody(12 << 20))

	// 6) Compress JSON responses. WebSocket upgrades must not pass through
	// the gzip writer, it breaks connection hijacking.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{"^/ws/"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per user/IP. WebSocket upgrades are
	// long-lived and must be marked before the limiter runs.
	r.Use(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/ws/") {
			middleware.MarkRateBypass(c)
		}
		c.Next()
	})
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Role"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Role"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← db/ai/hub
	workflowSvc := services.NewWorkflowService(deps.DB, deps.Hub)
	chatSvc := services.NewChatService(deps.DB, deps.AI, deps.Hub)
	if cfg.MaxMessageRunes >= 0 {
		chatSvc.MaxMessageRunes = cfg.MaxMessageRunes
	}
	intakeSvc := services.NewIntakeService(deps.DB, deps.AI, deps.Hub)
	assignSvc := services.NewAssignmentService(deps.DB)
	doctorSvc := services.NewDoctorService(deps.DB)
	lifecycleSvc := services.NewLifecycleService(deps.DB, cfg.RetentionDays)

	h := handlers.New(workflowSvc, chatSvc, intakeSvc, assignSvc, doctorSvc, lifecycleSvc, deps.AI, deps.Sessions)

	// WebSocket: authenticated per-case live feed.
	ws := realtime.NewHandler(deps.Hub, deps.Verifier, workflowSvc, chatSvc, nil)
	r.GET("/ws/cases/:id", ws.Serve)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Cases and workflow
		api.POST("/cases", h.CreateCase)
		api.GET("/cases", h.ListCases)
		api.GET("/cases/:id", h.GetCase)
		api.GET("/cases/:id/messages", h.GetTranscript)
		api.POST("/cases/:id/messages", h.SendMessage)
		api.POST("/cases/:id/request-review", h.RequestReview)
		api.POST("/cases/:id/accept", h.AcceptCase)
		api.POST("/cases/:id/complete", h.CompleteCase)
		api.POST("/cases/:id/rate", h.RateCase)

		// Doctors and assignment
		api.GET("/doctors", h.ListDoctors)
		api.GET("/doctors/:id", h.GetDoctor)
		api.GET("/me/doctor", h.MyDoctor)
		api.POST("/me/doctor", h.SelectDoctor)
		api.PUT("/me/doctor", h.ChangeDoctor)
		api.GET("/me/doctor/history", h.DoctorChangeHistory)
		api.GET("/doctor/patients", h.DoctorPatients)
		api.GET("/doctor/cases", h.DoctorCases)
		api.GET("/doctor/pending", h.PendingCases)

		// Account lifecycle
		api.DELETE("/me", h.DeleteAccount)

		// Anonymous trial
		api.POST("/public/analyze", h.TrialAnalyze)
		api.GET("/public/sessions/:id", h.TrialSession)
		api.POST("/public/sessions/:id/messages", h.TrialMessageSend)
		api.POST("/public/sessions/:id/migrate", h.TrialMigrate)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
