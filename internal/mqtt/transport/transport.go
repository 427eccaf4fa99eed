// Package transport implements spec §4.8's MQTT Codec & Connection
// component: multi-protocol listeners (plain TCP, TLS, WebSocket, QUIC)
// feeding a single framing/connection-admission path behind an
// accept-loop/per-connection-goroutine design.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"golang.org/x/time/rate"

	"github.com/robustmq/robustmq/internal/mqtt/packet"
)

// Config holds listener addresses and admission limits (spec §4.8).
type Config struct {
	TCPAddress  string // empty disables
	TLSAddress  string
	TLSConfig   *tls.Config
	WSAddress   string
	WSSAddress  string
	QUICAddress string
	QUICConfig  *tls.Config // QUIC requires TLS even for the "plain" listener

	MaxConnections int
	// ConnectionRatePerSec limits new-connection admission; 0 disables.
	ConnectionRatePerSec int
	MaxPacketSize        int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig matches spec §4.8's defaults: only TCP is enabled out of
// the box, with TLS/WS/WSS/QUIC requiring explicit opt-in.
func DefaultConfig() *Config {
	return &Config{
		TCPAddress:           "0.0.0.0:1883",
		MaxConnections:       100000,
		ConnectionRatePerSec: 1000,
		MaxPacketSize:        1 << 20,
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         30 * time.Second,
	}
}

// Conn is a transport-agnostic duplex byte stream: a TCP/TLS
// net.Conn, a websocket message reader/writer adapter, or a QUIC
// stream all satisfy it identically, so the packet reader loop above
// this package never needs to know which.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Handler is invoked once per accepted connection, on its own goroutine.
// It owns the connection for its whole lifetime and is responsible for
// closing it before returning.
type Handler func(ctx context.Context, conn Conn, remote net.Addr)

// Server runs any subset of the four listener kinds concurrently and
// funnels every accepted connection through Handler, after admission
// control (connection-count cap + rate limit).
type Server struct {
	cfg     *Config
	handler Handler
	logger  *slog.Logger

	limiter *rate.Limiter

	listeners []io.Closer
	running   atomic.Bool
	wg        sync.WaitGroup

	mu     sync.Mutex
	active int
}

// New builds a Server. handler is called for every admitted connection
// regardless of which listener accepted it.
func New(cfg *Config, handler Handler, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, handler: handler, logger: logger}
	if cfg.ConnectionRatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ConnectionRatePerSec), cfg.ConnectionRatePerSec)
	}
	return s
}

// Start launches every configured listener. It returns once all
// listeners are bound; accept loops continue on background goroutines.
func (s *Server) Start(ctx context.Context) error {
	s.running.Store(true)

	if s.cfg.TCPAddress != "" {
		ln, err := net.Listen("tcp", s.cfg.TCPAddress)
		if err != nil {
			return err
		}
		s.logger.Info("mqtt: tcp listener started", "address", s.cfg.TCPAddress)
		s.track(ln)
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.acceptNetLoop(ctx, ln) }()
	}

	if s.cfg.TLSAddress != "" {
		if s.cfg.TLSConfig == nil {
			return errors.New("transport: tls address configured without tls config")
		}
		ln, err := tls.Listen("tcp", s.cfg.TLSAddress, s.cfg.TLSConfig)
		if err != nil {
			return err
		}
		s.logger.Info("mqtt: tls listener started", "address", s.cfg.TLSAddress)
		s.track(ln)
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.acceptNetLoop(ctx, ln) }()
	}

	if s.cfg.WSAddress != "" {
		srv := s.newWSServer(s.cfg.WSAddress, nil)
		s.track(closerFunc(func() error { return srv.Close() }))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := srv.ListenAndServe(); err != nil && s.running.Load() {
				s.logger.Error("mqtt: ws listener error", "error", err)
			}
		}()
	}

	if s.cfg.WSSAddress != "" {
		if s.cfg.TLSConfig == nil {
			return errors.New("transport: wss address configured without tls config")
		}
		srv := s.newWSServer(s.cfg.WSSAddress, s.cfg.TLSConfig)
		s.track(closerFunc(func() error { return srv.Close() }))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := srv.ListenAndServeTLS("", ""); err != nil && s.running.Load() {
				s.logger.Error("mqtt: wss listener error", "error", err)
			}
		}()
	}

	if s.cfg.QUICAddress != "" {
		if s.cfg.QUICConfig == nil {
			return errors.New("transport: quic address configured without tls config")
		}
		ln, err := quic.ListenAddr(s.cfg.QUICAddress, s.cfg.QUICConfig, nil)
		if err != nil {
			return err
		}
		s.logger.Info("mqtt: quic listener started", "address", s.cfg.QUICAddress)
		s.track(closerFunc(func() error { return ln.Close() }))
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.acceptQUICLoop(ctx, ln) }()
	}

	return nil
}

// Shutdown closes every listener and waits for in-flight accept loops
// to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	s.mu.Lock()
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return firstErr
}

func (s *Server) track(c io.Closer) {
	s.mu.Lock()
	s.listeners = append(s.listeners, c)
	s.mu.Unlock()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (s *Server) acceptNetLoop(ctx context.Context, ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Error("transport: accept error", "error", err)
			return
		}
		s.admitAndServe(ctx, c, c.RemoteAddr())
	}
}

func (s *Server) acceptQUICLoop(ctx context.Context, ln *quic.Listener) {
	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			if !s.running.Load() {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Error("transport: quic accept error", "error", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptQUICStreams(ctx, sess)
		}()
	}
}

// acceptQUICStreams admits one connection handler per bidirectional
// stream opened on a QUIC session, so one physical connection may carry
// several concurrent MQTT-over-QUIC logical connections (spec §4.8: "a
// thin framing adapter handles QUIC bidirectional streams").
func (s *Server) acceptQUICStreams(ctx context.Context, sess *quic.Conn) {
	for {
		stream, err := sess.AcceptStream(ctx)
		if err != nil {
			return
		}
		s.admitAndServe(ctx, &quicStreamConn{stream: stream, sess: sess}, sess.RemoteAddr())
	}
}

// admitAndServe enforces the connection-count cap and rate limit before
// handing conn to Handler on its own goroutine (spec §4.8's "Admission"
// paragraph).
func (s *Server) admitAndServe(ctx context.Context, conn Conn, remote net.Addr) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("transport: connection rate limit exceeded, rejecting", "remote", remote)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	if s.cfg.MaxConnections > 0 && s.active >= s.cfg.MaxConnections {
		s.mu.Unlock()
		s.logger.Warn("transport: max connections reached, rejecting", "remote", remote)
		_ = conn.Close()
		return
	}
	s.active++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			_ = conn.Close()
		}()
		s.handler(ctx, conn, remote)
	}()
}

func (s *Server) newWSServer(addr string, tlsCfg *tls.Config) *wsServer {
	return &wsServer{addr: addr, tlsCfg: tlsCfg, outer: s}
}

// ReadPacket reads one complete MQTT control packet (fixed header plus
// remaining-length-bounded body) off conn, enforcing cfg.MaxPacketSize.
// This is the single suspension point a connection's read loop blocks
// on between packets (spec §4.8).
func ReadPacket(conn Conn, maxPacketSize int) (*packet.FixedHeader, []byte, error) {
	fh, err := packet.ReadFixedHeader(conn)
	if err != nil {
		return nil, nil, err
	}
	if maxPacketSize > 0 && fh.RemainingLength > maxPacketSize {
		return nil, nil, packet.ErrMalformedPacket
	}
	body := make([]byte, fh.RemainingLength)
	if fh.RemainingLength > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return nil, nil, err
		}
	}
	return fh, body, nil
}

// WritePacket builds a fixed header plus body into one buffer and issues
// a single conn.Write call, so the whole packet reaches the transport as
// one logical write no matter how many pieces WriteFixedHeader itself
// would otherwise emit. quicStreamConn relies on this: it length-prefixes
// each Write call as one frame, so a packet split across multiple writes
// would corrupt the frame boundary on read.
func WritePacket(conn Conn, t packet.Type, flags byte, body []byte) error {
	var buf bytes.Buffer
	if err := packet.WriteFixedHeader(&buf, t, flags, len(body)); err != nil {
		return err
	}
	buf.Write(body)
	_, err := conn.Write(buf.Bytes())
	return err
}

// quicStreamConn adapts one quic.Stream into transport.Conn. quic.Stream
// is a byte stream like any net.Conn, not message-oriented, so the codec's
// fixed-header framing alone would be ambiguous about where one MQTT
// packet ends and the next begins once a read races a partial write.
// Per spec's QUIC transport note, every frame carries an explicit 4-byte
// big-endian length prefix ahead of the packet bytes; Read reassembles
// one packet's worth of bytes per prefix before handing them to the MQTT
// fixed-header decoder, and Write prepends the prefix for whatever one
// WritePacket call hands it (always exactly one packet, see WritePacket).
type quicStreamConn struct {
	stream *quic.Stream
	sess   *quic.Conn

	frame bytes.Reader
}

// readQUICFrame reads one length-prefixed frame from r and returns its
// payload. buf is reused across calls purely as a scratch bytes.Reader so
// quicStreamConn.Read can serve a frame across several small Read calls.
func readQUICFrame(r io.Reader, buf *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, frameLen)
	if frameLen > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
	}
	buf.Reset(data)
	return data, nil
}

// writeQUICFrame writes p to w as one length-prefixed frame and reports
// the number of payload bytes written (excluding the prefix), matching
// io.Writer's contract for p itself.
func writeQUICFrame(w io.Writer, p []byte) (int, error) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	return w.Write(p)
}

func (q *quicStreamConn) Read(p []byte) (int, error) {
	for q.frame.Len() == 0 {
		if _, err := readQUICFrame(q.stream, &q.frame); err != nil {
			return 0, err
		}
	}
	return q.frame.Read(p)
}

func (q *quicStreamConn) Write(p []byte) (int, error) { return writeQUICFrame(q.stream, p) }

func (q *quicStreamConn) Close() error        { return q.stream.Close() }
func (q *quicStreamConn) RemoteAddr() net.Addr { return q.sess.RemoteAddr() }
func (q *quicStreamConn) SetReadDeadline(t time.Time) error {
	return q.stream.SetReadDeadline(t)
}
func (q *quicStreamConn) SetWriteDeadline(t time.Time) error {
	return q.stream.SetWriteDeadline(t)
}

// wsConn adapts a gorilla *websocket.Conn into transport.Conn by
// buffering one WS message at a time behind io.Reader/io.Writer: MQTT
// packets are framed within WS binary messages rather than 1:1 with
// them, so a websocket.Conn needs its per-message NextReader/NextWriter
// calls hidden behind an ordinary byte stream.
type wsConn struct {
	ws *websocket.Conn

	mu  sync.Mutex
	cur io.Reader
}

func (w *wsConn) Read(p []byte) (int, error) {
	for {
		if w.cur != nil {
			n, err := w.cur.Read(p)
			if err == io.EOF {
				w.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}
		_, r, err := w.ws.NextReader()
		if err != nil {
			return 0, err
		}
		w.cur = r
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error                         { return w.ws.Close() }
func (w *wsConn) RemoteAddr() net.Addr                 { return w.ws.RemoteAddr() }
func (w *wsConn) SetReadDeadline(t time.Time) error    { return w.ws.SetReadDeadline(t) }
func (w *wsConn) SetWriteDeadline(t time.Time) error   { return w.ws.SetWriteDeadline(t) }
