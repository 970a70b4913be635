// Package gateway accepts client WebSocket connections and routes their
// frames into per-connection sessions.
package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/internal/upstream"
)

// Gateway manages client WebSocket connections and their sessions.
type Gateway struct {
	cfg      *config.Config
	logger   *zap.Logger
	adapter  upstream.Adapter
	upgrader websocket.Upgrader

	nextID atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*session.Session
	draining bool
}

// New creates a Gateway backed by the live provider adapter.
func New(cfg *config.Config, logger *zap.Logger) *Gateway {
	adapter := upstream.NewLiveAdapter(cfg.UpstreamURL, cfg.ConnectTimeout, cfg.WriteTimeout, logger)
	return newGateway(cfg, logger, adapter)
}

// NewForTest creates a Gateway with an injected adapter.
func NewForTest(cfg *config.Config, logger *zap.Logger, adapter upstream.Adapter) *Gateway {
	return newGateway(cfg, logger, adapter)
}

func newGateway(cfg *config.Config, logger *zap.Logger, adapter upstream.Adapter) *Gateway {
	return &Gateway{
		cfg:     cfg,
		logger:  logger,
		adapter: adapter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect cross-origin; auth happens per session
			// via the start message.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session.Session),
	}
}

// SessionCount returns the current number of active sessions.
func (gw *Gateway) SessionCount() int {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return len(gw.sessions)
}

// HandleWS upgrades one client connection and runs its session until the
// transport closes.
func (gw *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	gw.mu.RLock()
	full := len(gw.sessions) >= gw.cfg.MaxSessions
	draining := gw.draining
	gw.mu.RUnlock()
	if full || draining {
		metrics.SessionsRejectedTotal.Inc()
		gw.logger.Warn("connection rejected", zap.Bool("draining", draining), zap.Int("sessions", gw.SessionCount()))
		http.Error(w, "service at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := fmt.Sprintf("session_%d", gw.nextID.Add(1))
	logger := gw.logger.With(zap.String("session", id))

	client := &wsClient{conn: conn, writeTimeout: gw.cfg.WriteTimeout}
	sess := session.New(id, gw.adapter, client, session.Options{
		Model:             gw.cfg.Model,
		KeepAliveInterval: gw.cfg.KeepAliveInterval,
	}, gw.logger)

	gw.mu.Lock()
	gw.sessions[id] = sess
	gw.mu.Unlock()

	metrics.SessionsCreatedTotal.Inc()
	metrics.ActiveSessions.Inc()
	logger.Info("client connected", zap.String("remote", r.RemoteAddr))

	start := time.Now()
	pingDone := make(chan struct{})
	go gw.pingLoop(client, pingDone)

	gw.readLoop(sess, client, logger)

	close(pingDone)
	gw.dispose(id, sess)
	metrics.SessionDuration.Observe(time.Since(start).Seconds())
	logger.Info("client disconnected", zap.Duration("connected", time.Since(start)))
}

// readLoop feeds inbound frames to the session until the transport errors.
func (gw *Gateway) readLoop(sess *session.Session, client *wsClient, logger *zap.Logger) {
	conn := client.conn
	conn.SetReadDeadline(time.Now().Add(2 * gw.cfg.ClientPingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * gw.cfg.ClientPingInterval))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("client transport error", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(2 * gw.cfg.ClientPingInterval))
		sess.HandleMessage(data)
	}
}

// pingLoop keeps the client transport alive and detects dead peers.
func (gw *Gateway) pingLoop(client *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(gw.cfg.ClientPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}

// dispose tears the session down as if a stop had been received, without
// notifying the departed client.
func (gw *Gateway) dispose(id string, sess *session.Session) {
	gw.mu.Lock()
	_, ok := gw.sessions[id]
	if ok {
		delete(gw.sessions, id)
	}
	gw.mu.Unlock()

	if ok {
		sess.Teardown()
		metrics.ActiveSessions.Dec()
	}
}

// Shutdown stops accepting connections and tears down all sessions.
func (gw *Gateway) Shutdown() {
	gw.mu.Lock()
	gw.draining = true
	sessions := make(map[string]*session.Session, len(gw.sessions))
	for k, v := range gw.sessions {
		sessions[k] = v
	}
	gw.sessions = make(map[string]*session.Session)
	gw.mu.Unlock()

	for _, sess := range sessions {
		sess.Teardown()
	}
	metrics.ActiveSessions.Set(0)

	gw.logger.Info("gateway shutdown complete", zap.Int("sessions", len(sessions)))
}
