package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/config"
	"github.com/energizer-project/matchmaker/internal/db"
	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/health"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/protocol"
	"github.com/energizer-project/matchmaker/internal/util"
)

// ServerStore is the read and delete side of the address store.
type ServerStore interface {
	ListServers() ([]db.ServerRecord, error)
	GetServer(key string) (*db.ServerRecord, error)
	DeleteServer(key string) (bool, error)
	CountServers() (int, error)
}

// RouterStatus exposes the packet router's state.
type RouterStatus interface {
	State() network.State
	HandlerNames() map[protocol.PacketType][]string
}

// Sweeper runs expiry on demand.
type Sweeper interface {
	RunCleanup(ctx context.Context) (int, error)
	LastCleanup() (time.Time, int)
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Results() []health.CheckResult
	Healthy() bool
}

// Deps are the components the API reports on. Everything but Store may be
// nil.
type Deps struct {
	Store   ServerStore
	Router  RouterStatus
	Sweeper Sweeper
	Health  HealthReporter
	Bus     *events.EventBus
	Metrics http.Handler

	Game    config.GameConfig
	Version string
	LogDir  string
	Debug   bool
}

// Server is the admin REST API.
type Server struct {
	cfg     config.APIConfig
	deps    Deps
	started time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, deps Deps) *Server {
	if deps.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		started: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if s.cfg.TLSEnabled {
		tlsConfig, err := s.tlsConfig()
		if err != nil {
			return err
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", s.cfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.cfg.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// tlsConfig loads the configured key pair, generating a self-signed one on
// first use.
func (s *Server) tlsConfig() (*tls.Config, error) {
	if !util.FileExists(s.cfg.TLSCertFile) || !util.FileExists(s.cfg.TLSKeyFile) {
		if err := util.GenerateSelfSignedCert(s.cfg.TLSCertFile, s.cfg.TLSKeyFile); err != nil {
			return nil, err
		}
	}

	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API certificate: %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	whitelist := IPWhitelist(s.cfg.IPWhitelist)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleGetInfo)
		public.GET("/health", s.handleGetHealth)
	}

	admin := router.Group("/api")
	admin.Use(whitelist, RequireAdminToken(s.cfg.AdminToken))
	{
		admin.GET("/servers", s.handleListServers)
		admin.GET("/servers/:ip", s.handleGetServer)
		admin.DELETE("/servers/:ip", s.handleDeleteServer)
		admin.POST("/servers/expire", s.handleExpireServers)

		admin.GET("/handlers", s.handleGetHandlers)
		admin.GET("/system", s.handleGetSystem)
		admin.GET("/logs", s.handleGetLogEntries)
	}

	if s.deps.Metrics != nil {
		router.GET("/metrics", whitelist, gin.WrapH(s.deps.Metrics))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "matchmaker admin API"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
