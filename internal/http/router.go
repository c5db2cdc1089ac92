package http

import (
	"log/slog"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/http/handlers"
	"github.com/geocoder89/authcore/internal/http/middlewares"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/geocoder89/authcore/internal/ratelimit"
	"github.com/geocoder89/authcore/internal/rbac"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

type RouterDeps struct {
	Env         string
	Log         *slog.Logger
	Manager     *auth.Manager
	Prom        *observability.Prom
	Gatherer    prometheus.Gatherer
	CORSOrigins []string

	// IPLimiter guards the unauthenticated auth endpoints. Nil disables it.
	IPLimiter ratelimit.Limiter

	Checks     map[string]handlers.Check
	SweepStats *observability.SweepStats
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Env != "dev" && deps.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware("authcore"))
	r.Use(middlewares.RequestLogger(deps.Log))
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders(deps.Env == "prod"))
	r.Use(middlewares.CORSMiddleware(deps.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())

	// health
	h := handlers.NewHealthHandler(deps.Checks, deps.SweepStats)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	authMw := middlewares.NewAuthMiddleware(deps.Manager)
	authH := handlers.NewAuthHandler(deps.Manager, handlers.CookieConfig{
		Secure: deps.Env == "prod",
	})
	usersH := handlers.NewUsersHandler(deps.Manager)

	// public auth routes, limited per client IP
	public := r.Group("/auth")
	if deps.IPLimiter != nil {
		var onLimited func(string)
		if deps.Prom != nil {
			onLimited = deps.Prom.IncRateLimited
		}
		public.Use(middlewares.RateLimit(deps.IPLimiter, "ip", middlewares.KeyByIP, onLimited))
	}
	public.POST("/register", authH.Register)
	public.POST("/login", authH.Login)
	public.POST("/refresh", authH.Refresh)
	public.POST("/verify", authH.Verify)

	// authenticated routes
	private := r.Group("/auth")
	private.Use(authMw.RequireAuth())
	private.POST("/logout", authH.Logout)
	private.POST("/logout-all", authH.LogoutAll)
	private.GET("/me", authH.Me)
	private.GET("/sessions", authH.Sessions)
	private.DELETE("/sessions/:id", authH.RevokeSession)
	private.POST("/password", authH.ChangePassword)
	private.POST("/2fa/enroll", authH.EnrollTwoFactor)
	private.POST("/2fa/confirm", authH.ConfirmTwoFactor)
	private.POST("/2fa/disable", authH.DisableTwoFactor)

	// user administration; the manager re-checks the stored actor
	users := r.Group("/users")
	users.Use(authMw.RequireAuth())
	users.GET("", authMw.RequirePermission(rbac.PermUsersRead), usersH.List)
	users.POST("", authMw.RequirePermission(rbac.PermUsersCreate), usersH.Create)
	users.GET("/:id", usersH.Get)
	users.PATCH("/:id", authMw.RequirePermission(rbac.PermUsersUpdate), usersH.Update)
	users.DELETE("/:id", authMw.RequirePermission(rbac.PermUsersDelete), usersH.Delete)
	users.POST("/:id/unlock", authMw.RequirePermission(rbac.PermUsersUnlock), usersH.Unlock)

	return r
}
