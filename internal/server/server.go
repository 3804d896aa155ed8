package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	authdomain "github.com/voltgrid/voltgrid/internal/authorization/domain"
	"github.com/voltgrid/voltgrid/internal/availability"
	chargepointdomain "github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/observability"
	obsmiddleware "github.com/voltgrid/voltgrid/internal/observability/logger"
	obsmetrics "github.com/voltgrid/voltgrid/internal/observability/metrics"
	obstracing "github.com/voltgrid/voltgrid/internal/observability/tracing"
	"github.com/voltgrid/voltgrid/internal/ratelimit"
	"github.com/voltgrid/voltgrid/internal/router"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(ensureServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func ensureServer(_ *Server) {}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Server binds the protocol router and the operator API onto HTTP.
type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	router       *router.Router
	points       chargepointdomain.Service
	sessions     sessiondomain.Service
	tokens       authdomain.Service
	availability *availability.Service
	obsMetrics   *obsmetrics.Metrics
	frameLimiter *ratelimit.FrameLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Router       *router.Router
	Points       chargepointdomain.Service
	Sessions     sessiondomain.Service
	Tokens       authdomain.Service
	Availability *availability.Service
	ObsMetrics   *obsmetrics.Metrics      `optional:"true"`
	FrameLimiter *ratelimit.FrameLimiter  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("server"),
		genID:        p.GenID,
		router:       p.Router,
		points:       p.Points,
		sessions:     p.Sessions,
		tokens:       p.Tokens,
		availability: p.Availability,
		obsMetrics:   p.ObsMetrics,
		frameLimiter: p.FrameLimiter,
	}

	svc.registerProtocolRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerProtocolRoutes() {
	s.engine.POST("/ocpp/:identity", s.FrameRateLimit(), s.handleFrame)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.PUT("/auth-tokens", s.upsertAuthToken)
	v1.GET("/charge-points/:identity", s.getChargePoint)
	v1.GET("/sessions/:id", s.getSession)
	v1.GET("/sessions/:id/readings", s.getSessionReadings)
	v1.GET("/availability/control-ids", s.listControlIDs)
	v1.POST("/availability/commands", s.handleAvailabilityCommand)
}
