// Package controlserver exposes the operator HTTP surface: session
// lifecycle, book and inventory introspection and the kill switch.
package controlserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/quoterd/internal/inventory"
	"github.com/betbot/quoterd/internal/maker"
	"github.com/betbot/quoterd/internal/marketdata"
	"github.com/betbot/quoterd/internal/quote"
	"github.com/betbot/quoterd/internal/risk"
)

var log = logrus.WithField("component", "controlserver")

type Server struct {
	orch    *maker.Orchestrator
	books   *marketdata.Tracker
	inv     *inventory.Tracker
	breaker *risk.CircuitBreaker

	httpSrv *http.Server
}

func New(orch *maker.Orchestrator, books *marketdata.Tracker, inv *inventory.Tracker, breaker *risk.CircuitBreaker) *Server {
	return &Server{orch: orch, books: books, inv: inv, breaker: breaker}
}

// Router builds the gin handler tree.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api/v1")
	api.GET("/status", s.handleStatus)

	sessions := api.Group("/sessions")
	sessions.GET("", s.handleSessionsList)
	sessions.POST("", s.handleSessionStart)
	sessions.DELETE("/:marketID", s.handleSessionStop)
	sessions.POST("/:marketID/refresh", s.handleSessionRefresh)

	api.GET("/orderbook/:tokenID", s.handleOrderbook)
	api.GET("/inventory/:conditionID", s.handleInventory)

	breaker := api.Group("/breaker")
	breaker.GET("", s.handleBreakerStatus)
	breaker.POST("/halt", s.handleBreakerHalt)
	breaker.POST("/resume", s.handleBreakerResume)

	return r
}

// Start serves the API until Shutdown.
func (s *Server) Start(listen string) error {
	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.WithField("listen", listen).Info("control server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type statusResponse struct {
	Running            bool      `json:"running"`
	Sessions           int       `json:"sessions"`
	BreakerOpen        bool      `json:"breaker_open"`
	TotalExposureUSD   float64   `json:"total_exposure_usd"`
	InventoryUpdatedAt time.Time `json:"inventory_updated_at"`
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Running:            s.orch.Running(),
		Sessions:           len(s.orch.Sessions()),
		BreakerOpen:        s.breaker.Open(),
		TotalExposureUSD:   s.inv.TotalExposure(),
		InventoryUpdatedAt: s.inv.UpdatedAt(),
	})
}

func (s *Server) handleSessionsList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.orch.Sessions()})
}

type startSessionRequest struct {
	MarketID string        `json:"market_id" binding:"required"`
	Config   *quote.Config `json:"config"`
}

func (s *Server) handleSessionStart(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.StartSession(c.Request.Context(), req.MarketID, req.Config); err != nil {
		c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"market_id": req.MarketID})
}

func (s *Server) handleSessionStop(c *gin.Context) {
	marketID := c.Param("marketID")
	if err := s.orch.StopSession(c.Request.Context(), marketID); err != nil {
		c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"market_id": marketID})
}

func (s *Server) handleSessionRefresh(c *gin.Context) {
	marketID := c.Param("marketID")
	if err := s.orch.RefreshSession(marketID); err != nil {
		c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"market_id": marketID})
}

func (s *Server) handleOrderbook(c *gin.Context) {
	tokenID := c.Param("tokenID")
	snap, ok := s.books.Snapshot(tokenID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for token"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleInventory(c *gin.Context) {
	conditionID := c.Param("conditionID")
	inv := s.inv.Inventory(conditionID)
	c.JSON(http.StatusOK, gin.H{
		"inventory": inv,
		"imbalance": inv.Imbalance(),
		"balanced":  inv.IsBalanced(0.5),
	})
}

func (s *Server) handleBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"open": s.breaker.Open()})
}

func (s *Server) handleBreakerHalt(c *gin.Context) {
	s.breaker.Halt()
	log.Warn("circuit breaker halted by operator")
	c.JSON(http.StatusOK, gin.H{"open": true})
}

func (s *Server) handleBreakerResume(c *gin.Context) {
	s.breaker.Resume()
	log.Info("circuit breaker resumed by operator")
	c.JSON(http.StatusOK, gin.H{"open": false})
}

func sessionErrStatus(err error) int {
	switch {
	case errors.Is(err, maker.ErrMarketNotFound), errors.Is(err, maker.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, maker.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, maker.ErrInsufficientOutcomes):
		return http.StatusUnprocessableEntity
	case errors.Is(err, maker.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
