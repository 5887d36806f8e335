package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/radiolink/internal/app"
	"github.com/charlesng35/radiolink/internal/handlers"
	"github.com/charlesng35/radiolink/internal/middleware"
	"github.com/charlesng35/radiolink/internal/monitoring"
	"github.com/charlesng35/radiolink/internal/realtime"
	"github.com/charlesng35/radiolink/internal/session"
)

// SessionService is the session manager as seen by the HTTP surface.
type SessionService interface {
	handlers.SessionController
	ToggleRelay()
	EnableRelay(enabled bool)
	Login(showPicker bool)
	ForceLogin()
	Logout()
	CompleteRedirect(redirectURL string)
	CompleteLogin(idToken, refreshToken string)
	TestRelay(row int)
}

// Services are the components routed by NewRouter. Health may be nil, in which
// case readiness reports no probes.
type Services struct {
	Sessions SessionService
	History  handlers.HistoryLister
	Hub      *realtime.Hub
	Health   handlers.Evaluator
}

var _ SessionService = (*session.Manager)(nil)

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(svc Services, cfg *app.Config) (*gin.Engine, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config must be provided")
	case svc.Sessions == nil:
		return nil, errors.New("session service must be provided")
	case svc.History == nil:
		return nil, errors.New("history service must be provided")
	case svc.Hub == nil:
		return nil, errors.New("realtime hub must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.NoRoute(middleware.NotFoundHandler)

	registerHealthRoutes(r, cfg, svc.Health)
	registerMetricsRoutes(r, cfg)

	api := r.Group("/api")
	registerSessionRoutes(api, handlers.NewSessionHandler(svc.Sessions))
	registerRelayRoutes(r, api, handlers.NewRelayHandler(svc.Sessions))
	registerHistoryRoutes(api, handlers.NewHistoryHandler(svc.History))
	api.GET("/stream", handlers.NewStreamHandler(svc.Hub, svc.Sessions).Stream)

	return r, nil
}

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, checker handlers.Evaluator) {
	if !cfg.Monitoring.Health.Enabled {
		return
	}
	if checker == nil {
		checker = monitoring.NewChecker(0)
	}

	for _, router := range []gin.IRouter{r, r.Group("/api")} {
		router.GET("/health", handlers.Health(checker))
		router.GET("/health/ready", handlers.Health(checker))
		router.GET("/health/live", handlers.Live)
	}
}

func registerMetricsRoutes(r *gin.Engine, cfg *app.Config) {
	prom := cfg.Monitoring.Prometheus
	if !prom.Enabled {
		return
	}
	endpoint := prom.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}
	r.GET(endpoint, gin.WrapH(promhttp.Handler()))
}

func registerSessionRoutes(api *gin.RouterGroup, handler *handlers.SessionHandler) {
	group := api.Group("/session")
	{
		group.GET("", handler.Get)
		group.POST("/connect", handler.Connect)
		group.POST("/choice", handler.Choose)
		group.POST("/disconnect", handler.Disconnect)
		group.PUT("/default", handler.SetDefault)
		group.DELETE("/default", handler.ClearDefault)
		group.POST("/command", handler.Command)
		group.POST("/occupants/disconnect", handler.DisconnectOccupant)
		group.POST("/notice/dismiss", handler.DismissNotice)
	}
}

func registerRelayRoutes(r *gin.Engine, api *gin.RouterGroup, handler *handlers.RelayHandler) {
	group := api.Group("/relay")
	{
		group.POST("/toggle", handler.Toggle)
		group.POST("/login", handler.Login)
		group.POST("/force-login", handler.ForceLogin)
		group.POST("/logout", handler.Logout)
		group.POST("/test", handler.Test)
		group.POST("/redirect", handler.Redirect)
		group.POST("/tokens", handler.Tokens)
		group.GET("/authorize.png", handler.AuthorizeQR)
	}

	// provider redirect target
	r.GET("/auth/callback", handler.Callback)
}

func registerHistoryRoutes(api *gin.RouterGroup, handler *handlers.HistoryHandler) {
	api.GET("/history", handler.List)
}
