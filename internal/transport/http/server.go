// Package opshttp exposes the minimal operator surface: health, open
// inconsistent-state records with a resolve action, and read-only ledger
// views. No dashboard lives here.
package opshttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sentinel/internal/logger"
	"sentinel/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr  string
	Store store.Store
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("ops http server requires a store")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	registerLedgerRoutes(api, cfg.Store)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("ops http: listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func registerLedgerRoutes(rg *gin.RouterGroup, st store.Store) {
	rg.GET("/positions", func(c *gin.Context) {
		positions, err := st.Positions().List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"positions": positions})
	})

	rg.GET("/close-events", func(c *gin.Context) {
		limit := queryInt(c, "limit", 100)
		events, err := st.CloseEvents().ListRecent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	rg.GET("/inconsistent", func(c *gin.Context) {
		limit := queryInt(c, "limit", 100)
		records, err := st.Inconsistencies().ListOpen(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	// The engine itself never resolves records; this is the operator
	// action.
	rg.POST("/inconsistent/:id/resolve", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if err := st.Inconsistencies().MarkResolved(c.Request.Context(), id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found or already resolved"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"resolved": id})
	})
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("ops http: %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Truncate(time.Millisecond))
	}
}
