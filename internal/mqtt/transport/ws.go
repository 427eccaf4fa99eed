package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer hosts the MQTT-over-WebSocket listener as a plain net/http
// server with a single upgrade handler, the same shape gorilla's own
// examples use. Subprotocol negotiation advertises "mqtt" per the MQTT
// WebSocket transport binding.
type wsServer struct {
	addr   string
	tlsCfg *tls.Config
	outer  *Server

	httpServer *http.Server
}

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{"mqtt"},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *wsServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.outer.logger.Warn("mqtt: websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	adapted := &wsConn{ws: conn}
	s.outer.admitAndServe(context.Background(), adapted, conn.RemoteAddr())
}

func (s *wsServer) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", s.handler)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	return s.httpServer.ListenAndServe()
}

func (s *wsServer) ListenAndServeTLS(certFile, keyFile string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", s.handler)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux, TLSConfig: s.tlsCfg}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	tlsLn := tls.NewListener(ln, s.tlsCfg)
	return s.httpServer.Serve(tlsLn)
}

func (s *wsServer) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
