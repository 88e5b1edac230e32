// Package vthttp 提供只读状态 API：健康检查、引擎快照与交易流水。
package vthttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voltrap/internal/engine"
	"voltrap/internal/journal"
	"voltrap/internal/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	addr   string
	engine *engine.Engine
	store  *journal.Store
	router *gin.Engine
}

func NewServer(addr string, eng *engine.Engine, store *journal.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s := &Server{
		addr:   addr,
		engine: eng,
		store:  store,
		router: router,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/trades", s.handleTrades)
	api.POST("/reconcile", s.handleReconcile)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ts": time.Now().Unix()})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, []journal.TradeEvent{})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

// handleReconcile 触发一次按需对账，排查手工干预后的状态分歧。
func (s *Server) handleReconcile(c *gin.Context) {
	s.engine.ReconcileOnce(c.Request.Context())
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

// Start 启动 HTTP 服务并在 ctx 取消时优雅退出。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errC := make(chan error, 1)
	go func() {
		logger.Infof("HTTP 状态接口监听于 %s", s.addr)
		errC <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
