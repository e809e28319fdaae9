// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/thereceipt/uart-link/internal/command"
	"github.com/thereceipt/uart-link/internal/port"
	"github.com/thereceipt/uart-link/internal/rate"
	"github.com/thereceipt/uart-link/internal/registry"
	"github.com/thereceipt/uart-link/internal/session"
	"github.com/thereceipt/uart-link/pkg/uartframe"
	"go.uber.org/zap"
)

// Server is the API server
type Server struct {
	router      *gin.Engine
	manager     *port.Manager
	supervisor  *session.Supervisor
	registry    *registry.Registry
	executor    *command.Executor
	defaults    port.LinkConfig
	hub         *Hub
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	unsubscribe func()
}

// NewServer creates a new API server and subscribes its WebSocket hub to the
// supervisor's session events
func NewServer(manager *port.Manager, sv *session.Supervisor, reg *registry.Registry, executor *command.Executor, defaults port.LinkConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	// Set Gin to release mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	// CORS middleware
	router.Use(corsMiddleware())

	server := &Server{
		router:     router,
		manager:    manager,
		supervisor: sv,
		registry:   reg,
		executor:   executor,
		defaults:   defaults,
		hub:        NewHub(logger),
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
	server.unsubscribe = sv.Subscribe(server.hub.HandleEvent)

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/ports", s.handleGetPorts)
	s.router.POST("/ports/alias", s.handleSetAlias)

	serial := s.router.Group("/serial")
	serial.POST("/connect", s.handleConnect)
	serial.POST("/disconnect", s.handleDisconnect)
	serial.GET("/status", s.handleSerialStatus)

	s.router.POST("/frames/encode", s.handleEncode)

	tx := s.router.Group("/transmission")
	tx.POST("/prepare", s.handlePrepare)
	tx.POST("/confirm", s.handleConfirm)
	tx.POST("/cancel", s.handleCancel)
	tx.POST("/start", s.handleStart)
	tx.POST("/pause", s.handlePause)
	tx.POST("/resume", s.handleResume)
	tx.POST("/stop", s.handleStop)
	tx.GET("/status", s.handleTransmissionStatus)
	tx.GET("/log", s.handleLog)

	// Command endpoint
	s.router.POST("/command", s.handleCommand)

	// WebSocket
	s.router.GET("/ws", s.handleWebSocket)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// Handler exposes the router for an http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close detaches the hub from session events and drops every WebSocket client
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Close()
}

// Run starts the API server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// handleGetPorts returns detected ports with their profile IDs and aliases
func (s *Server) handleGetPorts(c *gin.Context) {
	ports, err := s.manager.ListPorts()
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	list := make([]gin.H, len(ports))
	for i, p := range ports {
		id := s.registry.ProfileID(p)
		list[i] = gin.H{
			"id":    id,
			"port":  p,
			"alias": s.registry.Alias(id),
		}
	}

	c.JSON(200, gin.H{"ports": list})
}

// handleSetAlias names a port by device path or profile ID
func (s *Server) handleSetAlias(c *gin.Context) {
	var req struct {
		Port  string `json:"port" binding:"required"`
		Alias string `json:"alias" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "port and alias are required"})
		return
	}

	id := req.Port
	if info, ok := s.portInfo(req.Port); ok {
		id = s.registry.ProfileID(info)
	}
	if !s.registry.SetAlias(id, req.Alias) {
		c.JSON(404, gin.H{"error": "port not found"})
		return
	}

	c.JSON(200, gin.H{"success": true, "id": id, "alias": req.Alias})
}

type connectRequest struct {
	Port     string `json:"port" binding:"required"`
	BaudRate int    `json:"baudrate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// handleConnect opens a link. Fields left out come from the link last used on
// the port, then from the configured defaults.
func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "port is required"})
		return
	}

	device := req.Port
	if resolved, ok := s.registry.Resolve(device); ok {
		device = resolved
	}

	cfg := s.defaults
	if remembered, ok := s.registry.LinkFor(device); ok {
		cfg = remembered
	}
	cfg.Port = device
	if req.BaudRate != 0 {
		cfg.BaudRate = req.BaudRate
	}
	if req.DataBits != 0 {
		cfg.DataBits = req.DataBits
	}
	if req.StopBits != 0 {
		cfg.StopBits = req.StopBits
	}
	if req.Parity != "" {
		parity, err := port.ParseParity(req.Parity)
		if err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		cfg.Parity = parity
	}
	cfg = cfg.WithDefaults()

	if err := s.supervisor.Connect(c.Request.Context(), cfg); err != nil {
		s.fail(c, err)
		return
	}

	info, ok := s.portInfo(device)
	if !ok {
		info = port.PortInfo{Device: device, Type: "serial"}
		if cfg.IsNetwork() {
			info.Type = "network"
		}
	}
	s.registry.RememberLink(info, cfg)

	c.JSON(200, gin.H{"success": true, "link": cfg, "session": s.supervisor.Snapshot()})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.supervisor.Disconnect(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true, "session": s.supervisor.Snapshot()})
}

func (s *Server) handleSerialStatus(c *gin.Context) {
	c.JSON(200, gin.H{"port": s.manager.Status(), "session": s.supervisor.Snapshot()})
}

type encodeRequest struct {
	command.PixelPayload
	Interval string `json:"interval"`
	Limit    int    `json:"limit"`
}

// preview binds a pixel payload and builds its frames and rate estimate at the
// baud of the current link
func (s *Server) preview(c *gin.Context) (*command.Preview, *encodeRequest, bool) {
	var req encodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "invalid pixel payload: " + err.Error()})
		return nil, nil, false
	}

	mode := rate.Auto()
	if req.Interval != "" {
		m, err := rate.ParseMode(req.Interval)
		if err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return nil, nil, false
		}
		mode = m
	}

	p, err := command.BuildPreview(&req.PixelPayload, s.baud(), mode)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	return p, &req, true
}

// handleEncode returns the frames for an image without sending anything.
// ?format=text returns the hex dump operators download instead of JSON.
func (s *Server) handleEncode(c *gin.Context) {
	p, req, ok := s.preview(c)
	if !ok {
		return
	}

	if c.Query("format") == "text" {
		c.Header("Content-Disposition", `attachment; filename="frames.txt"`)
		c.String(200, uartframe.Dump(p.Sequence, req.Limit))
		return
	}

	resp := gin.H{"success": true, "summary": p.Summary()}
	for k, v := range p.Map(req.Limit) {
		resp[k] = v
	}
	c.JSON(200, resp)
}

// handlePrepare stages an image; the transmission starts on /transmission/confirm
func (s *Server) handlePrepare(c *gin.Context) {
	p, _, ok := s.preview(c)
	if !ok {
		return
	}

	if err := s.supervisor.Prepare(c.Request.Context(), p.Sequence, p.Rate.Interval()); err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{"success": true, "summary": p.Summary(), "session": s.supervisor.Snapshot()}
	for k, v := range p.Map(3) {
		resp[k] = v
	}
	c.JSON(200, resp)
}

// handleStart stages and confirms in one request
func (s *Server) handleStart(c *gin.Context) {
	p, _, ok := s.preview(c)
	if !ok {
		return
	}

	if err := s.supervisor.Start(c.Request.Context(), p.Sequence, p.Rate.Interval()); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":     true,
		"summary":     p.Summary(),
		"frame_count": len(p.Sequence),
		"rate":        p.Rate,
		"session":     s.supervisor.Snapshot(),
	})
}

func (s *Server) handleConfirm(c *gin.Context) {
	s.transition(c, s.supervisor.Confirm(c.Request.Context()))
}

func (s *Server) handleCancel(c *gin.Context) {
	s.transition(c, s.supervisor.Cancel())
}

func (s *Server) handlePause(c *gin.Context) {
	s.transition(c, s.supervisor.Pause())
}

func (s *Server) handleResume(c *gin.Context) {
	s.transition(c, s.supervisor.Resume())
}

func (s *Server) handleStop(c *gin.Context) {
	s.transition(c, s.supervisor.Stop(c.Request.Context()))
}

func (s *Server) transition(c *gin.Context, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true, "session": s.supervisor.Snapshot()})
}

func (s *Server) handleTransmissionStatus(c *gin.Context) {
	c.JSON(200, s.supervisor.Snapshot())
}

// handleLog returns log entries from ?since=N
func (s *Server) handleLog(c *gin.Context) {
	since := 0
	if v := c.Query("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(400, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		since = n
	}

	page, err := s.manager.PollLog(c.Request.Context(), since)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(200, gin.H{
		"log":           page.Entries,
		"since":         page.Since,
		"total_entries": page.Total,
	})
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "command is required"})
		return
	}

	result := s.executor.Execute(c.Request.Context(), req.Command)

	if result.Success {
		response := gin.H{
			"success": true,
		}
		if result.Message != "" {
			response["message"] = result.Message
		}
		for k, v := range result.Data {
			response[k] = v
		}
		c.JSON(200, response)
	} else {
		c.JSON(400, gin.H{
			"success": false,
			"error":   result.Error,
		})
	}
}

// fail maps a domain error to its HTTP status
func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"success": false, "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, uartframe.ErrDimensionMismatch),
		errors.Is(err, uartframe.ErrInvalidDimensions),
		errors.Is(err, rate.ErrInvalidBaud),
		errors.Is(err, rate.ErrInvalidInterval),
		errors.Is(err, port.ErrPoll):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNoPendingTransmission),
		errors.Is(err, session.ErrSessionFailed),
		errors.Is(err, session.ErrStale),
		errors.Is(err, port.ErrNotTransmitting):
		return http.StatusConflict
	case errors.Is(err, session.ErrConnection), errors.Is(err, session.ErrTransmission):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) portInfo(ref string) (port.PortInfo, bool) {
	ports, err := s.manager.ListPorts()
	if err != nil {
		return port.PortInfo{}, false
	}
	for _, p := range ports {
		if p.Device == ref || s.registry.ProfileID(p) == ref {
			return p, true
		}
	}
	return port.PortInfo{}, false
}

func (s *Server) baud() int {
	if snap := s.supervisor.Snapshot(); snap.Link != nil {
		return snap.Link.BaudRate
	}
	if link, ok := s.supervisor.LastLink(); ok {
		return link.BaudRate
	}
	if s.defaults.BaudRate > 0 {
		return s.defaults.BaudRate
	}
	return port.DefaultBaudRate
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
