package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/iiotx/internal/logging"
)

const writeWait = 2 * time.Second

// WebServer exposes telemetry history, status and a websocket live feed.
type WebServer struct {
	srv      *http.Server
	hub      *Hub
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// NewWebServer builds an HTTP server for the hub.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	w := &WebServer{
		hub:    hub,
		logger: logger.With(logging.Subsystem("telemetry")),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/status", hub.handleStatus)
	mux.HandleFunc("/ws", w.handleLive)
	w.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return w
}

// Handler returns the HTTP handler, for mounting or tests.
func (w *WebServer) Handler() http.Handler { return w.srv.Handler }

// Start listens until ctx is cancelled. It returns nil after a clean
// shutdown.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	w.logger.Info("telemetry listening", logging.F("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.Err(err))
		}
	}()

	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleLive sends the stored history, then every new sample, as JSON text
// messages.
func (w *WebServer) handleLive(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade", logging.Err(err))
		return
	}
	defer conn.Close()

	ch, cancel := w.hub.Subscribe()
	defer cancel()

	// read pump: only control frames are expected; a read error means the
	// client went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, s := range w.hub.History() {
		if err := w.send(conn, s); err != nil {
			return
		}
	}

	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return
			}
			if err := w.send(conn, s); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (w *WebServer) send(conn *websocket.Conn, s Sample) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(s)
}
