package sandbox

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/clinicgate/internal/metrics"
	"github.com/tyemirov/clinicgate/pkg/accesstoken"
	"go.uber.org/zap"
)

// Dependencies are the collaborators a Server uses. Zero values get in-memory defaults.
type Dependencies struct {
	Directory     *Directory
	RefreshTokens RefreshTokenStore
	Logger        *zap.Logger
	Metrics       metrics.Recorder
	// MetricsHandler is served at GET /metrics when set.
	MetricsHandler http.Handler
}

// Server is a development double of the practice API.
type Server struct {
	configuration  Config
	directory      *Directory
	refreshTokens  RefreshTokenStore
	validator      *accesstoken.Validator
	logger         *zap.Logger
	metrics        metrics.Recorder
	metricsHandler http.Handler
}

// New validates configuration and assembles a Server.
func New(configuration Config, dependencies Dependencies) (*Server, error) {
	prepared, err := configuration.withDefaults()
	if err != nil {
		return nil, err
	}
	validator, err := accesstoken.New(accesstoken.Config{
		SigningKey: prepared.SigningKey,
		Issuer:     prepared.Issuer,
		Clock:      prepared.Clock,
	})
	if err != nil {
		return nil, err
	}
	server := &Server{
		configuration:  prepared,
		directory:      dependencies.Directory,
		refreshTokens:  dependencies.RefreshTokens,
		validator:      validator,
		logger:         dependencies.Logger,
		metrics:        dependencies.Metrics,
		metricsHandler: dependencies.MetricsHandler,
	}
	if server.directory == nil {
		server.directory = NewDirectory()
	}
	if server.refreshTokens == nil {
		server.refreshTokens = NewMemoryRefreshTokenStore()
	}
	if server.logger == nil {
		server.logger = zap.NewNop()
	}
	if server.metrics == nil {
		server.metrics = metrics.NopRecorder{}
	}
	return server, nil
}

// Handler builds the gin engine serving every sandbox route.
func (server *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(server.logger))
	if len(server.configuration.AllowedOrigins) > 0 {
		router.Use(corsMiddleware(server.logger, server.configuration.AllowedOrigins))
	}
	server.MountRoutes(router)
	return router
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
