package server

import (
	"context"
	"net/http"
	"time"

	"github.com/flowlytix/subscription-server/internal/config"
	"github.com/flowlytix/subscription-server/internal/customer"
	customerdomain "github.com/flowlytix/subscription-server/internal/customer/domain"
	"github.com/flowlytix/subscription-server/internal/observability/metrics"
	"github.com/flowlytix/subscription-server/internal/observability/tracing"
	"github.com/flowlytix/subscription-server/internal/ratelimit"
	"github.com/flowlytix/subscription-server/internal/subscription"
	subscriptiondomain "github.com/flowlytix/subscription-server/internal/subscription/domain"
	"github.com/flowlytix/subscription-server/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	customer.Module,
	subscription.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracing.GinMiddleware())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger
	db     *gorm.DB

	customerSvc     customerdomain.Service
	subscriptionSvc subscriptiondomain.Service
	licenseSvc      subscriptiondomain.LicenseService
	authority       *token.Authority
	accessTokens    *token.AccessTokens
	limiter         *ratelimit.LicenseLimiter
	metrics         *metrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	DB              *gorm.DB
	CustomerSvc     customerdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	LicenseSvc      subscriptiondomain.LicenseService
	Authority       *token.Authority
	AccessTokens    *token.AccessTokens
	Limiter         *ratelimit.LicenseLimiter `optional:"true"`
	Metrics         *metrics.Metrics          `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		db:              p.DB,
		customerSvc:     p.CustomerSvc,
		subscriptionSvc: p.SubscriptionSvc,
		licenseSvc:      p.LicenseSvc,
		authority:       p.Authority,
		accessTokens:    p.AccessTokens,
		limiter:         p.Limiter,
		metrics:         p.Metrics,
	}
}

func registerRoutes(s *Server) {
	s.RegisterLicenseRoutes()
	s.RegisterAdminRoutes()
	s.RegisterAuthRoutes()
}

// RegisterLicenseRoutes exposes the endpoints desktop installs call.
// They authenticate by license key, not by dashboard token.
func (s *Server) RegisterLicenseRoutes() {
	api := s.engine.Group("/api/v1/license")
	api.Use(s.LicenseRateLimit())
	api.POST("/activate", s.ActivateLicense)
	api.POST("/validate", s.ValidateLicense)
	api.POST("/deactivate", s.DeactivateLicense)
	api.POST("/verify", s.VerifyLicenseToken)
}

func (s *Server) RegisterAdminRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.AuthRequired())

	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers", s.ListCustomers)
	api.GET("/customers/:id", s.GetCustomerByID)

	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/expiring", s.ListExpiringSubscriptions)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.GET("/subscriptions/:id/analytics", s.GetSubscriptionAnalytics)
	api.POST("/subscriptions/:id/suspend", s.SuspendSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	api.POST("/subscriptions/:id/extend", s.ExtendSubscription)
	api.POST("/subscriptions/:id/tier", s.UpdateSubscriptionTier)

	api.GET("/customers/:id/subscriptions", s.ListCustomerSubscriptions)
}

func (s *Server) RegisterAuthRoutes() {
	api := s.engine.Group("/api/v1/auth")
	api.POST("/login", s.Login)
}
