// Package pulse is an asynchronous PulseAudio client.
//
// A Context is tied to a mainloop.Loop. Network I/O happens on background
// goroutines, but every state change and every callback is applied on the
// goroutine iterating the loop, one at a time.
package pulse

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rk-labs/pulse/internal/log"
	"github.com/rk-labs/pulse/mainloop"
	"github.com/rk-labs/pulse/proto"
)

var (
	// ErrBadState is returned when an operation is not allowed in the
	// current state of a context or stream.
	ErrBadState = errors.New("pulse: bad state")
	// ErrInvalidArgument is returned for invalid names, sample specs and sizes.
	ErrInvalidArgument = errors.New("pulse: invalid argument")
	// ErrNoServer is returned when no server string could be resolved.
	ErrNoServer = proto.ErrNoServer
)

// ContextState is the connection state of a Context.
type ContextState int

const (
	ContextUnconnected ContextState = iota
	ContextConnecting
	ContextAuthorizing
	ContextSettingUp
	ContextReady
	ContextFailed
	ContextTerminated
)

var contextStateNames = [...]string{
	ContextUnconnected: "unconnected",
	ContextConnecting:  "connecting",
	ContextAuthorizing: "authorizing",
	ContextSettingUp:   "setting up",
	ContextReady:       "ready",
	ContextFailed:      "failed",
	ContextTerminated:  "terminated",
}

func (s ContextState) String() string {
	if s < 0 || int(s) >= len(contextStateNames) {
		return "unknown (" + strconv.Itoa(int(s)) + ")"
	}
	return contextStateNames[s]
}

// Final reports whether the state is Failed or Terminated.
// A context never leaves a final state.
func (s ContextState) Final() bool {
	return s == ContextFailed || s == ContextTerminated
}

// A Context is a connection to a PulseAudio server.
type Context struct {
	loop   *mainloop.Loop
	c      proto.Client
	props  proto.PropList
	server string

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	// Everything below is only touched on the loop goroutine.
	state   ContextState
	err     error
	index   uint32
	stateCB func(*Context)
	streams map[uint32]*Stream
}

// A ContextOption supplies configuration when creating a Context.
type ContextOption func(*Context)

// ContextServerString sets the server Connect uses when it is called
// with an empty server string.
//
// For the format see
// https://www.freedesktop.org/wiki/Software/PulseAudio/Documentation/User/ServerStrings/
func ContextServerString(s string) ContextOption {
	return func(c *Context) { c.server = s }
}

// ContextProperty sets a property of the client, for example "application.icon_name".
func ContextProperty(key, value string) ContextOption {
	return func(c *Context) { c.props[key] = proto.PropListString(value) }
}

// NewContext creates an unconnected context on loop.
// The name is shown by the server as the application name.
func NewContext(loop *mainloop.Loop, name string, opts ...ContextOption) (*Context, error) {
	if loop == nil || name == "" {
		return nil, ErrInvalidArgument
	}
	c := &Context{
		loop: loop,
		props: proto.PropList{
			"application.name":           proto.PropListString(name),
			"application.process.id":     proto.PropListString(strconv.Itoa(os.Getpid())),
			"application.process.binary": proto.PropListString(filepath.Base(os.Args[0])),
		},
		index:   proto.Undefined,
		streams: make(map[uint32]*Stream),
	}
	if host, err := os.Hostname(); err == nil {
		c.props["application.process.host"] = proto.PropListString(host)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Loop returns the loop the context runs on.
func (c *Context) Loop() *mainloop.Loop { return c.loop }

func (c *Context) State() ContextState { return c.state }

// Err returns the error that moved the context to ContextFailed.
func (c *Context) Err() error { return c.err }

// Index returns the client index assigned by the server, or
// proto.Undefined before the context is ready.
func (c *Context) Index() uint32 { return c.index }

// SetStateCallback sets the function called on every state change.
// Passing nil removes it.
func (c *Context) SetStateCallback(cb func(*Context)) { c.stateCB = cb }

// Connect starts connecting to server. If server is empty, the server set
// with ContextServerString, PULSE_SERVER or the default socket is used.
//
// Connect only resolves the server string; the connection is made in the
// background and reported through the state callback.
func (c *Context) Connect(server string) error {
	if c.state != ContextUnconnected {
		return ErrBadState
	}
	if server == "" {
		server = c.server
	}
	servers, err := proto.Servers(server)
	if err != nil {
		return err
	}
	c.setState(ContextConnecting)
	go c.connect(servers)
	return nil
}

func (c *Context) connect(servers []proto.ServerString) {
	conn, err := proto.Dial(servers)
	if err != nil {
		c.loop.Defer(func() { c.fail(err) })
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.c.Callback = func(msg interface{}) {
		if _, ok := msg.(*proto.DataPacket); ok {
			// Playback streams receive no data.
			return
		}
		c.loop.Defer(func() { c.dispatch(msg) })
	}
	c.c.OnConnectionClosed = func() {
		err := c.c.Err()
		c.loop.Defer(func() { c.fail(err) })
	}
	c.c.Open(conn)
	c.loop.Defer(func() { c.advance(ContextAuthorizing) })

	if err := proto.Authenticate(&c.c); err != nil {
		c.loop.Defer(func() { c.fail(err) })
		return
	}
	c.loop.Defer(func() { c.advance(ContextSettingUp) })

	var reply proto.SetClientNameReply
	if err := c.c.Request(&proto.SetClientName{Props: c.props}, &reply); err != nil {
		c.loop.Defer(func() { c.fail(err) })
		return
	}
	c.loop.Defer(func() {
		c.index = reply.ClientIndex
		c.advance(ContextReady)
	})
}

// advance applies a state reached by the connecting goroutine,
// unless the context was disconnected or failed in the meantime.
func (c *Context) advance(s ContextState) {
	if c.state.Final() {
		return
	}
	c.setState(s)
}

func (c *Context) setState(s ContextState) {
	if c.state == s {
		return
	}
	log.Debug("pulse: context state", "from", c.state, "to", s)
	c.state = s
	if c.stateCB != nil {
		c.stateCB(c)
	}
}

func (c *Context) fail(err error) {
	if c.state.Final() {
		return
	}
	if err == nil {
		err = proto.ErrClosed
	}
	c.err = err
	c.closeConn()
	for _, s := range c.streams {
		s.fail(err)
	}
	c.setState(ContextFailed)
}

func (c *Context) closeConn() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Disconnect closes the connection. Streams are terminated and the
// context moves to ContextTerminated.
func (c *Context) Disconnect() {
	if c.state == ContextTerminated {
		return
	}
	c.closeConn()
	for _, s := range c.streams {
		s.terminate()
	}
	c.setState(ContextTerminated)
}

// Unref releases the context. Callbacks are dropped before the
// connection is closed, so none of them runs again.
func (c *Context) Unref() {
	c.stateCB = nil
	for _, s := range c.streams {
		s.stateCB = nil
		s.writeCB = nil
	}
	c.Disconnect()
}

// request sends a command and hands the result to done on the loop
// goroutine. The result is deferred from the reading goroutine, so done
// runs before any message the server sent after the reply.
func (c *Context) request(req proto.RequestArgs, rpl proto.Reply, done func(error)) {
	c.c.RequestAsync(req, rpl, func(err error) {
		if done != nil {
			c.loop.Defer(func() { done(err) })
		}
	})
}

func (c *Context) dispatch(msg interface{}) {
	if c.state.Final() {
		return
	}
	switch msg := msg.(type) {
	case *proto.Request:
		if s, ok := c.streams[msg.StreamIndex]; ok {
			s.request(int(msg.Length))
		}
	case *proto.Underflow:
		if s, ok := c.streams[msg.StreamIndex]; ok {
			s.underflows++
		}
	case *proto.Overflow:
		if s, ok := c.streams[msg.StreamIndex]; ok {
			s.overflows++
		}
	case *proto.PlaybackStreamKilled:
		if s, ok := c.streams[msg.StreamIndex]; ok {
			s.fail(proto.ErrEntityKilled)
		}
	case *proto.PlaybackStreamSuspended:
		if s, ok := c.streams[msg.StreamIndex]; ok {
			s.suspended = msg.Suspended
		}
	case *proto.Started:
		if s, ok := c.streams[msg.StreamIndex]; ok {
			s.started = true
		}
	default:
		log.Debug("pulse: ignoring message", "type", msgType(msg))
	}
}

func msgType(msg interface{}) string {
	switch msg.(type) {
	case *proto.PlaybackStreamMoved:
		return "moved"
	case *proto.PlaybackStreamEvent:
		return "event"
	case *proto.PlaybackBufferAttrChanged:
		return "buffer attributes changed"
	}
	return "unknown"
}
