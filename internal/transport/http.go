// Package transport wires the Session hub onto the local WebSocket
// endpoint and, optionally, onto an encrypted relay link for remote
// clients. Grounded on the teacher's
// apps/backend/internal/gateway/websocket.Handler (gin upgrade entry
// point) and backend/internal/orchestrator/api middleware (request
// logging, recovery, CORS), generalized from a token-gated multi-route
// REST API to the daemon's single WebSocket surface plus a small debug
// surface.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paseo-dev/paseod/internal/crypto"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the daemon's local HTTP/WebSocket front door.
type Server struct {
	hub        *session.Hub
	dispatcher *session.Dispatcher
	daemonKey  *crypto.KeyPair
	logger     *paseolog.Logger
	router     *gin.Engine
	httpSrv    *http.Server
}

// NewServer builds the gin router: a WebSocket upgrade endpoint, a health
// check, and a debug QR-bootstrap endpoint for the relay handshake.
func NewServer(hub *session.Hub, dispatcher *session.Dispatcher, daemonKey *crypto.KeyPair, log *paseolog.Logger) *Server {
	logger := log.WithFields(zap.String("component", "transport-http"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(logger), gin.Recovery(), corsMiddleware())

	s := &Server{hub: hub, dispatcher: dispatcher, daemonKey: daemonKey, logger: logger, router: router}

	router.GET("/health", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)
	router.GET("/debug/qr", s.handleDebugQR)

	return s
}

// Run listens on addr until ctx is cancelled, then gracefully shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWebSocket upgrades the connection and registers it with the
// session hub, mirroring gateway/websocket.Handler.HandleConnection.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	sessionConn := session.NewConnection(connID, conn, s.hub, s.logger)
	s.hub.Register(sessionConn)

	ctx := c.Request.Context()
	go sessionConn.WritePump()
	sessionConn.ReadPump(ctx, s.dispatcher.Dispatch)
}

// handleDebugQR renders the relay bootstrap payload as a PNG QR code, for
// local debugging without a terminal (§4.4's "optionally a PNG served
// from a local debug HTTP endpoint").
func (s *Server) handleDebugQR(c *gin.Context) {
	if s.daemonKey == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay mode is not enabled"})
		return
	}

	relayURL := c.Query("relayUrl")
	serverID := c.Query("serverId")
	payload := crypto.BootstrapPayload{
		RelayURL:  relayURL,
		ServerID:  serverID,
		DaemonPub: s.daemonKey.PublicBase64(),
	}

	png, err := crypto.PNG(payload, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// corsMiddleware mirrors the teacher's hand-rolled orchestrator/api.CORS:
// local WebSocket clients (mobile/desktop shells) arrive from file:// or
// capacitor:// origins that a library's origin allowlist would reject.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log *paseolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug("http request",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
