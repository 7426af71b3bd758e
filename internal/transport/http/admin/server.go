package adminhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"stratexec/internal/engine"
	"stratexec/internal/logger"
	"stratexec/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Server is the management HTTP surface over an engine registry.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig lists the server's collaborators. Journal and History are
// optional; their routes answer 503 when unset.
type ServerConfig struct {
	Addr         string
	Registry     *engine.Registry
	Prices       *market.PriceBook
	Journal      EventSource
	History      HistorySource
	InitialValue decimal.Decimal
	InitialCash  decimal.Decimal
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("admin http server requires an engine registry")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "engines": len(cfg.Registry.List())})
	})
	api := &Router{
		registry:     cfg.Registry,
		prices:       cfg.Prices,
		journal:      cfg.Journal,
		history:      cfg.History,
		schemas:      schemas,
		initialValue: cfg.InitialValue,
		initialCash:  cfg.InitialCash,
	}
	api.Register(router.Group("/api"))
	return &Server{addr: cfg.Addr, router: router}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("admin http listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
