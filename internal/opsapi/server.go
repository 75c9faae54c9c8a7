// Package opsapi is the read-mostly HTTP surface operators use to watch the
// engine and intervene on the circuit breaker. It never touches the signal
// pipeline or exchange client directly; everything it reports comes from
// state the engine already maintains.
package opsapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okx-scalper/internal/connquality"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/persistence"
	"okx-scalper/internal/positions"
	"okx-scalper/internal/risk"
)

// Config holds the ops API's listen settings, sourced from config.ServerConfig.
type Config struct {
	Port           int
	AllowedOrigins string
}

// Server is the ops HTTP API: health, open positions, Prometheus metrics,
// and a circuit breaker reset endpoint.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	positions *positions.Registry
	risk      *risk.Manager
	conn      *connquality.Monitor
	journal   *persistence.Journal
	log       *logging.Logger
}

// New builds the ops API server. journal may be nil when running without a
// Postgres mirror; health then reports on the CSV sink alone.
func New(cfg Config, positionsReg *positions.Registry, riskMgr *risk.Manager, connMon *connquality.Monitor, journal *persistence.Journal) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		positions: positionsReg,
		risk:      riskMgr,
		conn:      connMon,
		journal:   journal,
		log:       logging.WithComponent("opsapi"),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/positions", s.handlePositions)
	s.router.GET("/circuit-breaker", s.handleBreakerStatus)
	s.router.POST("/circuit-breaker/reset", s.handleBreakerReset)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy := true
	if s.journal != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.journal.HealthCheck(ctx); err != nil {
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":             status,
		"connection_profile": string(s.conn.Current()),
		"circuit_breaker":    string(s.risk.BreakerState()),
		"open_positions":     s.positions.OpenCount(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	symbols := s.positions.OpenSymbols()
	out := make([]gin.H, 0, len(symbols))
	for _, symbol := range symbols {
		meta, ok := s.positions.Get(symbol)
		if !ok {
			continue
		}
		out = append(out, gin.H{
			"symbol":           meta.Symbol,
			"side":             meta.Side,
			"state":            meta.State,
			"entry_price":      meta.EntryPrice,
			"quantity":         meta.Quantity,
			"leverage":         meta.Leverage,
			"stop_loss":        meta.StopLoss,
			"take_profit":      meta.TakeProfit,
			"regime_at_entry":  meta.RegimeAtEntry,
			"profile_at_entry": meta.BalanceProfileAtEntry,
			"opened_at":        meta.OpenedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) handleBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": string(s.risk.BreakerState())})
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	s.risk.ForceResetBreaker()
	s.log.Info("circuit breaker force reset via ops API")
	c.JSON(http.StatusOK, gin.H{"state": string(s.risk.BreakerState())})
}

// Run starts serving and blocks until ctx is canceled, at which point it
// shuts the HTTP server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
