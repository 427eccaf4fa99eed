package transport

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/robustmq/robustmq/internal/mqtt/packet"
)

// pipeConn adapts net.Conn (from net.Pipe) to the transport.Conn
// interface for tests that don't need a real listener.
type pipeConn struct{ net.Conn }

func TestReadWritePacketRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	body := []byte{0x00, 0x04, 't', 'e', 's', 't', 0x00, 0x01, 'x'}
	done := make(chan error, 1)
	go func() {
		done <- WritePacket(&pipeConn{client}, packet.TypePublish, 0x00, body)
	}()

	fh, got, err := ReadPacket(&pipeConn{server}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if fh.Type != packet.TypePublish || fh.RemainingLength != len(body) {
		t.Fatalf("got fixed header %+v", fh)
	}
	if string(got) != string(body) {
		t.Fatalf("got body %v, want %v", got, body)
	}
}

func TestReadPacketRejectsOversizePacket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WritePacket(&pipeConn{client}, packet.TypePublish, 0x00, make([]byte, 100))
	}()

	if _, _, err := ReadPacket(&pipeConn{server}, 10); err != packet.ErrMalformedPacket {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
}

// TestQUICFrameRoundTrip exercises the length-prefix framing quicStreamConn
// applies around a QUIC stream's raw byte-stream Read/Write, using
// writeQUICFrame/readQUICFrame directly against a net.Pipe since
// *quic.Stream has no public constructor usable in tests.
func TestQUICFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	first := []byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o', 0x01}
	second := []byte{0x00, 0x03, 'b', 'y', 'e'}

	done := make(chan error, 2)
	go func() {
		_, err := writeQUICFrame(client, first)
		done <- err
		_, err = writeQUICFrame(client, second)
		done <- err
	}()

	var buf bytes.Reader
	got1, err := readQUICFrame(server, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(got1) != string(first) {
		t.Fatalf("got %v, want %v", got1, first)
	}

	got2, err := readQUICFrame(server, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(got2) != string(second) {
		t.Fatalf("got %v, want %v", got2, second)
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestServerAdmitsWithinConnectionCap(t *testing.T) {
	var mu sync.Mutex
	var served int
	handler := func(ctx context.Context, conn Conn, remote net.Addr) {
		mu.Lock()
		served++
		mu.Unlock()
		<-ctx.Done()
	}

	cfg := &Config{MaxConnections: 1}
	s := New(cfg, handler, nil)
	ctx, cancel := context.WithCancel(context.Background())

	c1, s1 := net.Pipe()
	c2, s2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	s.admitAndServe(ctx, &pipeConn{s1}, s1.RemoteAddr())
	time.Sleep(20 * time.Millisecond)
	s.admitAndServe(ctx, &pipeConn{s2}, s2.RemoteAddr())
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	count := served
	mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly 1 connection admitted under cap=1, got %d", count)
	}

	cancel()
	s.wg.Wait()
}
