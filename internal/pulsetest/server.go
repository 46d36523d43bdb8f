// Package pulsetest runs a minimal PulseAudio server for tests.
//
// The server speaks enough of the native protocol for a client to
// authenticate, name itself and create playback streams. It negotiates
// protocol version 8, which keeps replies to their oldest, shortest form.
package pulsetest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/rk-labs/pulse/proto"
)

const (
	controlChannel = 0xFFFFFFFF
	headerSize     = 20
	version        = 8
)

type Server struct {
	// Addr is the server string clients should connect to.
	Addr string

	ln net.Listener
	g  errgroup.Group
	t  testing.TB

	mu         sync.Mutex
	conns      []*conn
	commands   []uint32
	data       map[uint32][]byte
	nextStream uint32
	closed     bool

	rejectAuth   bool
	missing      uint32
	requestAfter uint32
}

type conn struct {
	net.Conn
	wm sync.Mutex
}

// An Option configures a Server.
type Option func(*Server)

// RejectAuth makes the server refuse authentication with "access denied".
func RejectAuth() Option {
	return func(s *Server) { s.rejectAuth = true }
}

// Missing sets the number of bytes requested when a stream is created.
func Missing(n uint32) Option {
	return func(s *Server) { s.missing = n }
}

// RequestAfterCreate makes the server ask for n more bytes right after
// each create reply, in the same burst of packets.
func RequestAfterCreate(n uint32) Option {
	return func(s *Server) { s.requestAfter = n }
}

// NewServer starts a server listening on a unix socket.
// It is stopped when the test finishes.
func NewServer(t testing.TB, opts ...Option) *Server {
	// Socket paths are limited to about 100 bytes; t.TempDir can be longer.
	dir, err := os.MkdirTemp("", "pulsetest")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "native")
	ln, err := net.Listen("unix", path)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	s := &Server{
		Addr:    "unix:" + path,
		ln:      ln,
		t:       t,
		data:    make(map[uint32][]byte),
		missing: 4096,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.g.Go(s.accept)
	t.Cleanup(func() {
		s.Close()
		os.RemoveAll(dir)
	})
	return s
}

// Close stops the server and waits for its goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.conns
	s.mu.Unlock()

	s.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	if err := s.g.Wait(); err != nil {
		s.t.Errorf("pulsetest: %v", err)
	}
}

// DropClients closes every client connection, as a crashing server would.
func (s *Server) DropClients() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) accept() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		c := &conn{Conn: nc}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		s.g.Go(func() error { return s.serve(c) })
	}
}

func (s *Server) serve(c *conn) error {
	r := bufio.NewReader(c)
	var header [headerSize]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return ignoreClosed(err)
		}
		length := binary.BigEndian.Uint32(header[0:])
		channel := binary.BigEndian.Uint32(header[4:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return ignoreClosed(err)
		}

		if channel != controlChannel {
			s.mu.Lock()
			s.data[channel] = append(s.data[channel], payload...)
			s.mu.Unlock()
			continue
		}
		if len(payload) < 10 || payload[0] != 'L' || payload[5] != 'L' {
			return errors.New("malformed command packet")
		}
		cmd := binary.BigEndian.Uint32(payload[1:])
		tag := binary.BigEndian.Uint32(payload[6:])
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		if err := s.command(c, cmd, tag); err != nil {
			return ignoreClosed(err)
		}
	}
}

func (s *Server) command(c *conn, cmd, tag uint32) error {
	switch cmd {
	case proto.OpAuth:
		if s.rejectAuth {
			return c.write(controlChannel, tagstruct{}.u32(proto.OpError).u32(tag).u32(uint32(proto.ErrAccessDenied)))
		}
		return c.write(controlChannel, reply(tag).u32(version))
	case proto.OpSetClientName:
		return c.write(controlChannel, reply(tag).u32(0))
	case proto.OpCreatePlaybackStream:
		s.mu.Lock()
		index := s.nextStream
		s.nextStream++
		s.mu.Unlock()
		if err := c.write(controlChannel, reply(tag).u32(index).u32(index).u32(s.missing)); err != nil || s.requestAfter == 0 {
			return err
		}
		return c.write(controlChannel, event(proto.OpRequest).u32(index).u32(s.requestAfter))
	case proto.OpDeletePlaybackStream, proto.OpCorkPlaybackStream,
		proto.OpFlushPlaybackStream, proto.OpDrainPlaybackStream:
		return c.write(controlChannel, reply(tag))
	}
	return c.write(controlChannel, tagstruct{}.u32(proto.OpError).u32(tag).u32(uint32(proto.ErrUnknownCommand)))
}

// Request asks every client for n more bytes on stream.
func (s *Server) Request(stream, n uint32) {
	s.broadcast(event(proto.OpRequest).u32(stream).u32(n))
}

// Kill tells every client that stream was killed.
func (s *Server) Kill(stream uint32) {
	s.broadcast(event(proto.OpPlaybackStreamKilled).u32(stream))
}

// Underflow reports an underflow on stream.
func (s *Server) Underflow(stream uint32) {
	s.broadcast(event(proto.OpUnderflow).u32(stream))
}

func (s *Server) broadcast(t tagstruct) {
	s.mu.Lock()
	conns := append([]*conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.write(controlChannel, t); err != nil && !isClosed(err) {
			s.t.Errorf("pulsetest: %v", err)
		}
	}
}

// Commands returns the commands received so far, in order.
func (s *Server) Commands() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.commands...)
}

// Received returns a copy of the audio data received for stream.
func (s *Server) Received(stream uint32) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data[stream]...)
}

// WaitReceived waits until at least n bytes were received for stream and
// returns them. It fails the test after timeout.
func (s *Server) WaitReceived(stream uint32, n int, timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	for {
		data := s.Received(stream)
		if len(data) >= n {
			return data
		}
		if time.Now().After(deadline) {
			s.t.Fatalf("pulsetest: received %d of %d bytes on stream %d", len(data), n, stream)
		}
		time.Sleep(time.Millisecond)
	}
}

type tagstruct []byte

func reply(tag uint32) tagstruct {
	return tagstruct{}.u32(proto.OpReply).u32(tag)
}

func event(op uint32) tagstruct {
	return tagstruct{}.u32(op).u32(controlChannel)
}

func (t tagstruct) u32(v uint32) tagstruct {
	return binary.BigEndian.AppendUint32(append(t, 'L'), v)
}

func (c *conn) write(channel uint32, payload []byte) error {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[0:], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:], channel)
	c.wm.Lock()
	defer c.wm.Unlock()
	if _, err := c.Write(header[:]); err != nil {
		return err
	}
	_, err := c.Write(payload)
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}

func ignoreClosed(err error) error {
	if isClosed(err) {
		return nil
	}
	return err
}
