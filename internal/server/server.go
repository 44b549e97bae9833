package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/fiscalsync/internal/audit/domain"
	certdomain "github.com/smallbiznis/fiscalsync/internal/certificate/domain"
	companydomain "github.com/smallbiznis/fiscalsync/internal/company/domain"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/connector"
	connectordomain "github.com/smallbiznis/fiscalsync/internal/connector/domain"
	docdomain "github.com/smallbiznis/fiscalsync/internal/document/domain"
	exportdomain "github.com/smallbiznis/fiscalsync/internal/export/domain"
	"github.com/smallbiznis/fiscalsync/internal/observability"
	obsmiddleware "github.com/smallbiznis/fiscalsync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fiscalsync/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fiscalsync/internal/observability/tracing"
	"github.com/smallbiznis/fiscalsync/internal/ratelimit"
	syncdomain "github.com/smallbiznis/fiscalsync/internal/sync/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the HTTP API. Domain modules are wired by the binaries.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(RunHTTP),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func corsConfig(cfg config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	if cfg.IsProduction() {
		// an empty allowlist denies every cross-origin request
		corsCfg.AllowOrigins = cfg.CORSAllowedOrigins
		if len(corsCfg.AllowOrigins) == 0 {
			corsCfg.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AddAllowMethods("GET", "POST", "PATCH", "DELETE", "OPTIONS")
	corsCfg.AddAllowHeaders(HeaderAccount, "X-Request-Id", "Content-Type")
	corsCfg.AddExposeHeaders("Content-Length", "Content-Disposition", "X-Request-Id")
	return corsCfg
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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

// healthChecker is the part of the connector registry the API reads.
type healthChecker interface {
	HealthAll(ctx context.Context) []connectordomain.Health
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	companies    companydomain.Service
	certificates certdomain.Service
	sync         syncdomain.Service
	documents    docdomain.Service
	exports      exportdomain.Service
	audit        auditdomain.Service
	connectors   healthChecker
	limiter      *ratelimit.TriggerLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Companies    companydomain.Service
	Certificates certdomain.Service
	Sync         syncdomain.Service
	Documents    docdomain.Service
	Exports      exportdomain.Service
	Audit        auditdomain.Service
	Connectors   *connector.Registry
	Limiter      *ratelimit.TriggerLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http"),
		companies:    p.Companies,
		certificates: p.Certificates,
		sync:         p.Sync,
		documents:    p.Documents,
		exports:      p.Exports,
		audit:        p.Audit,
		connectors:   p.Connectors,
		limiter:      p.Limiter,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
	s.RegisterFallback()
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api/v1", AccountRequired())

	// -------- Companies --------
	api.POST("/companies", s.CreateCompany)
	api.GET("/companies", s.ListCompanies)
	api.GET("/companies/:id", s.GetCompany)
	api.PATCH("/companies/:id", s.UpdateCompany)
	api.PATCH("/companies/:id/status", s.SetCompanyStatus)
	api.DELETE("/companies/:id", s.DeleteCompany)

	// -------- Certificates --------
	api.POST("/companies/:id/certificates", s.UploadCertificate)
	api.POST("/companies/:id/certificates/a3", s.PairCertificate)
	api.GET("/companies/:id/certificates", s.ListCertificates)
	api.GET("/certificates/:id", s.GetCertificate)
	api.POST("/certificates/:id/revoke", s.RevokeCertificate)

	// -------- Sync --------
	api.POST("/companies/:id/sync", s.TriggerSync)
	api.GET("/sync_runs", s.ListSyncRuns)
	api.GET("/sync_runs/:id", s.GetSyncRun)

	// -------- Documents --------
	api.GET("/documents", s.ListDocuments)
	api.GET("/documents/stats", s.DocumentStats)
	api.GET("/documents/:id", s.GetDocument)
	api.GET("/documents/:id/events", s.ListDocumentEvents)
	api.GET("/documents/:id/xml", s.DownloadDocumentXML)
	api.GET("/documents/:id/pdf", s.RenderDocumentPDF)

	// -------- Exports --------
	api.POST("/exports", s.CreateExport)
	api.GET("/exports", s.ListExports)
	api.GET("/exports/:id", s.GetExport)
	api.GET("/exports/:id/download", s.DownloadExport)

	// -------- Audit --------
	api.GET("/audit_logs", s.ListAuditLogs)

	// the A3 agent authenticates with its pairing token, not an account header
	s.engine.POST("/api/v1/agent/certificates/:id/heartbeat", s.CertificateHeartbeat)
	s.engine.GET("/api/v1/connectors/health", s.ConnectorHealth)
}

func (s *Server) RegisterFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
