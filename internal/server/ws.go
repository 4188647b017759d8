package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whitewookie32/TheDonna/internal/config"
	"github.com/whitewookie32/TheDonna/internal/protocol"
	"github.com/whitewookie32/TheDonna/internal/session"
)

var errWriterClosed = errors.New("connection writer closed")

// WSHandler upgrades voice channel requests and runs one session per
// connection
type WSHandler struct {
	cfg            config.WebSocketConfig
	outboundBuffer int
	registry       *session.Registry
	logger         *slog.Logger
	upgrader       websocket.Upgrader

	// hijacked connections are invisible to http.Server.Shutdown
	conns sync.WaitGroup
}

// NewWSHandler creates the voice channel handler
func NewWSHandler(cfg config.WebSocketConfig, outboundBuffer int, registry *session.Registry, logger *slog.Logger) *WSHandler {
	if outboundBuffer <= 0 {
		outboundBuffer = 64
	}

	return &WSHandler{
		cfg:            cfg,
		outboundBuffer: outboundBuffer,
		registry:       registry,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	h.serveConn(conn, r.RemoteAddr)
}

// Wait blocks until every connection handler has returned or ctx ends
func (h *WSHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveConn owns the connection until the client leaves, the session ends or
// the server shuts down
func (h *WSHandler) serveConn(conn *websocket.Conn, remoteAddr string) {
	writer := newConnWriter(conn, h.outboundBuffer, h.cfg.GetWriteTimeout(), h.cfg.GetPingInterval())

	sess, err := h.registry.CreateSession(writer)
	if err != nil {
		h.logger.Warn("Rejecting connection",
			slog.String("remote_addr", remoteAddr),
			slog.String("error", err.Error()),
		)
		deadline := time.Now().Add(h.cfg.GetWriteTimeout())
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), deadline)
		_ = conn.Close()
		return
	}
	defer h.registry.RemoveSession(sess.ID())

	logger := h.logger.With(slog.String("session_id", sess.ID()))
	logger.Info("Client connected", slog.String("remote_addr", remoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		defer cancel()
		if err := writer.run(ctx); err != nil {
			logger.Warn("Connection write failed", slog.String("error", err.Error()))
		}
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Session ended with error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		err := h.readLoop(ctx, conn, sess)
		switch {
		case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
			logger.Warn("Connection closed unexpectedly", slog.String("error", err.Error()))
		case err != nil:
			logger.Debug("Read loop ended", slog.String("error", err.Error()))
		}
	}()

	wg.Wait()

	logger.Info("Client disconnected", slog.String("remote_addr", remoteAddr))
}

// readLoop forwards text frames to the session until the connection fails.
// Any inbound traffic, pongs included, extends the read deadline.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	pongTimeout := h.cfg.GetPongTimeout()

	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

		if err := sess.Submit(ctx, data); err != nil {
			return err
		}
	}
}

// connWriter is the session Sink for one connection. A single goroutine
// writes frames in the order Send accepted them and interleaves keepalive
// pings.
type connWriter struct {
	conn         *websocket.Conn
	out          chan protocol.Outbound
	done         chan struct{}
	writeTimeout time.Duration
	pingInterval time.Duration
}

func newConnWriter(conn *websocket.Conn, buffer int, writeTimeout, pingInterval time.Duration) *connWriter {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}

	return &connWriter{
		conn:         conn,
		out:          make(chan protocol.Outbound, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

// Send queues an event for the writer goroutine
func (w *connWriter) Send(ctx context.Context, event protocol.Outbound) error {
	select {
	case w.out <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return errWriterClosed
	}
}

// run writes queued events until ctx ends or a write fails, then closes the
// connection
func (w *connWriter) run(ctx context.Context) error {
	defer close(w.done)
	defer w.conn.Close()

	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(w.writeTimeout))
			return nil

		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout)); err != nil {
				return err
			}

		case event := <-w.out:
			data, err := event.Encode()
			if err != nil {
				return err
			}
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}
