// Package api serves the local HTTP control API and the websocket status
// stream used by the POS front end on the same terminal
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/thereceipt/cafeprint/internal/command"
	"github.com/thereceipt/cafeprint/internal/dispatch"
	"github.com/thereceipt/cafeprint/internal/log"
	"github.com/thereceipt/cafeprint/internal/printer"
	"github.com/thereceipt/cafeprint/internal/relay"
	"github.com/thereceipt/cafeprint/pkg/receiptformat"
)

// Router is the printing surface behind the API
type Router interface {
	command.Router
	PrintRaw(ctx context.Context, transport string, data []byte) error
	Subscribe(fn func(dispatch.Status)) (unsubscribe func())
}

// Server is the API server
type Server struct {
	engine   *gin.Engine
	router   Router
	executor *command.Executor
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	clientsMu   sync.RWMutex
	clients     map[*wsClient]struct{}
	unsubscribe func()
}

// NewServer creates a new API server
func NewServer(router Router, executor *command.Executor) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	s := &Server{
		engine:   engine,
		router:   router,
		executor: executor,
		logger:   log.WithComponent("api"),
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the POS front end is served from another origin
			},
		},
	}

	engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())
	s.setupRoutes()
	s.unsubscribe = router.Subscribe(s.broadcastStatus)

	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/status", s.handleStatus)

	s.engine.POST("/connect/:transport", s.handleConnect)
	s.engine.POST("/disconnect/:transport", s.handleDisconnect)

	s.engine.POST("/print/receipt", s.handlePrintReceipt)
	s.engine.POST("/print/kitchen", s.handlePrintKitchen)
	s.engine.POST("/print/both", s.handlePrintBoth)
	s.engine.POST("/print/raw/:transport", s.handlePrintRaw)
	s.engine.POST("/print/test/:transport", s.handleTestPrint)
	s.engine.POST("/drawer", s.handleDrawer)

	s.engine.POST("/command", s.handleCommand)

	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   s.router.Status(),
		"printers": s.router.Printers(),
	})
}

func (s *Server) handleConnect(c *gin.Context) {
	transport := c.Param("transport")
	if err := s.router.Connect(c.Request.Context(), transport); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.router.Status()})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.router.Disconnect(c.Param("transport")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.router.Status()})
}

// bindOrder decodes and validates the order in the request body
func bindOrder(c *gin.Context) (*receiptformat.BuildInput, bool) {
	var in receiptformat.BuildInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid order: " + err.Error()})
		return nil, false
	}
	if err := receiptformat.Validate(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid order: " + err.Error()})
		return nil, false
	}
	return &in, true
}

func (s *Server) handlePrintReceipt(c *gin.Context) {
	in, ok := bindOrder(c)
	if !ok {
		return
	}
	if err := s.router.PrintReceipt(c.Request.Context(), in); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handlePrintKitchen(c *gin.Context) {
	in, ok := bindOrder(c)
	if !ok {
		return
	}
	if err := s.router.PrintKitchenOrder(c.Request.Context(), in); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handlePrintBoth always answers 200 with the per-target outcome
func (s *Server) handlePrintBoth(c *gin.Context) {
	in, ok := bindOrder(c)
	if !ok {
		return
	}

	res := s.router.PrintBoth(c.Request.Context(), in)
	body := gin.H{
		"success": res.Success(),
		"receipt": res.Receipt,
		"kitchen": res.Kitchen,
	}
	if err := res.Err(); err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handlePrintRaw(c *gin.Context) {
	var req struct {
		Bytes relay.ByteArray `json:"bytes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if len(req.Bytes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bytes is required"})
		return
	}

	if err := s.router.PrintRaw(c.Request.Context(), c.Param("transport"), req.Bytes); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bytes": len(req.Bytes)})
}

func (s *Server) handleTestPrint(c *gin.Context) {
	if err := s.router.TestPrint(c.Request.Context(), c.Param("transport")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDrawer(c *gin.Context) {
	if err := s.router.OpenDrawer(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "command is required"})
		return
	}

	result := s.executor.Execute(c.Request.Context(), req.Command)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// fail maps printing errors onto HTTP statuses
func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrUnknownTransport):
		code = http.StatusNotFound
	case errors.Is(err, printer.ErrCancelled):
		code = http.StatusConflict
	case errors.Is(err, printer.ErrUnsupported):
		code = http.StatusNotImplemented
	case errors.Is(err, printer.ErrNotConnected),
		errors.Is(err, dispatch.ErrReceiptPrinterUnavailable),
		errors.Is(err, dispatch.ErrKitchenPrinterUnavailable):
		code = http.StatusServiceUnavailable
	}

	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(code, gin.H{"success": false, "error": err.Error()})
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Msg("control API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close detaches from the router and drops websocket clients
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.clientsMu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := s.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
