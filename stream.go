package pulse

import (
	"strconv"

	"github.com/rk-labs/pulse/internal/log"
	"github.com/rk-labs/pulse/proto"
)

// StreamState is the state of a playback stream.
type StreamState int

const (
	StreamUnconnected StreamState = iota
	StreamCreating
	StreamReady
	StreamFailed
	StreamTerminated
)

var streamStateNames = [...]string{
	StreamUnconnected: "unconnected",
	StreamCreating:    "creating",
	StreamReady:       "ready",
	StreamFailed:      "failed",
	StreamTerminated:  "terminated",
}

func (s StreamState) String() string {
	if s < 0 || int(s) >= len(streamStateNames) {
		return "unknown (" + strconv.Itoa(int(s)) + ")"
	}
	return streamStateNames[s]
}

// Final reports whether the state is Failed or Terminated.
func (s StreamState) Final() bool {
	return s == StreamFailed || s == StreamTerminated
}

// SeekMode tells Write where the data goes in the server's buffer.
type SeekMode int

// SeekRelative appends the data after the last written byte.
// It is the only mode playback streams support.
const SeekRelative SeekMode = 0

// MaxWriteSize is the largest buffer BeginWrite returns.
const MaxWriteSize = 64 * 1024

// A Stream is a playback stream. All methods must be called on the loop
// goroutine, usually from callbacks.
type Stream struct {
	ctx    *Context
	create proto.CreatePlaybackStream
	reply  proto.CreatePlaybackStreamReply

	state   StreamState
	err     error
	stateCB func(*Stream)
	writeCB func(*Stream, int)

	buf        []byte
	writing    bool
	writable   int
	underflows int
	overflows  int
	suspended  bool
	started    bool
}

// A StreamOption supplies configuration when creating a Stream.
type StreamOption func(*Stream)

// StreamProperty sets a property of the stream, for example "media.role".
func StreamProperty(key, value string) StreamOption {
	return func(s *Stream) { s.create.Properties[key] = proto.PropListString(value) }
}

// StreamSink selects the sink by name. The server's default sink is used otherwise.
func StreamSink(name string) StreamOption {
	return func(s *Stream) { s.create.SinkName = name }
}

// StreamCorked creates the stream paused; use Cork(false, ...) to start it.
func StreamCorked() StreamOption {
	return func(s *Stream) { s.create.Corked = true }
}

// NewStream creates an unconnected playback stream.
// The context must be ready and the sample spec valid. Mono and stereo
// streams are supported.
func (c *Context) NewStream(name string, spec proto.SampleSpec, opts ...StreamOption) (*Stream, error) {
	if c.state != ContextReady {
		return nil, ErrBadState
	}
	if name == "" || !spec.Valid() {
		return nil, ErrInvalidArgument
	}
	var cmap proto.ChannelMap
	switch spec.Channels {
	case 1:
		cmap = proto.ChannelMap{proto.ChannelMono}
	case 2:
		cmap = proto.ChannelMap{proto.ChannelLeft, proto.ChannelRight}
	default:
		return nil, ErrInvalidArgument
	}
	volumes := make(proto.ChannelVolumes, spec.Channels)
	for i := range volumes {
		volumes[i] = proto.VolumeNorm
	}
	s := &Stream{
		ctx: c,
		create: proto.CreatePlaybackStream{
			SampleSpec:            spec,
			ChannelMap:            cmap,
			SinkIndex:             proto.Undefined,
			BufferMaxLength:       proto.Undefined,
			BufferTargetLength:    proto.Undefined,
			BufferPrebufferLength: proto.Undefined,
			BufferMinimumRequest:  proto.Undefined,
			ChannelVolumes:        volumes,
			Properties: proto.PropList{
				"media.name": proto.PropListString(name),
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Stream) Context() *Context { return s.ctx }

func (s *Stream) State() StreamState { return s.state }

// Err returns the error that moved the stream to StreamFailed.
func (s *Stream) Err() error { return s.err }

// SampleSpec returns the format of the stream.
func (s *Stream) SampleSpec() proto.SampleSpec { return s.create.SampleSpec }

// Index returns the server's index of the stream, or proto.Undefined
// if the stream is not ready.
func (s *Stream) Index() uint32 {
	if s.state != StreamReady {
		return proto.Undefined
	}
	return s.reply.StreamIndex
}

// WritableSize returns the number of bytes the server has asked for and
// not yet received.
func (s *Stream) WritableSize() int { return s.writable }

// Underflows returns how often the server ran out of data.
func (s *Stream) Underflows() int { return s.underflows }

// Overflows returns how often more data was written than requested.
func (s *Stream) Overflows() int { return s.overflows }

// Suspended reports whether the sink of the stream is suspended.
func (s *Stream) Suspended() bool { return s.suspended }

// Started reports whether the server started playing the stream.
func (s *Stream) Started() bool { return s.started }

// SetStateCallback sets the function called on every state change.
func (s *Stream) SetStateCallback(cb func(*Stream)) { s.stateCB = cb }

// SetWriteCallback sets the function called when the server asks for data.
// The second argument is the number of bytes that can be written.
func (s *Stream) SetWriteCallback(cb func(*Stream, int)) { s.writeCB = cb }

// ConnectPlayback asks the server to create the stream. The result is
// reported through the state callback.
func (s *Stream) ConnectPlayback() error {
	if s.state != StreamUnconnected || s.ctx.state != ContextReady {
		return ErrBadState
	}
	s.setState(StreamCreating)
	var reply proto.CreatePlaybackStreamReply
	s.ctx.request(&s.create, &reply, func(err error) { s.created(&reply, err) })
	return nil
}

func (s *Stream) created(reply *proto.CreatePlaybackStreamReply, err error) {
	if s.state != StreamCreating {
		if err == nil && !s.ctx.state.Final() {
			// Disconnected while the server was creating it.
			s.ctx.request(&proto.DeletePlaybackStream{StreamIndex: reply.StreamIndex}, nil, nil)
		}
		return
	}
	if err != nil {
		s.fail(err)
		return
	}
	if s.ctx.state != ContextReady {
		s.fail(ErrBadState)
		return
	}
	s.reply = *reply
	s.buf = make([]byte, MaxWriteSize)
	s.ctx.streams[reply.StreamIndex] = s
	s.setState(StreamReady)
	if reply.Missing > 0 {
		s.request(int(reply.Missing))
	}
}

func (s *Stream) setState(state StreamState) {
	if s.state == state {
		return
	}
	log.Debug("pulse: stream state", "from", s.state, "to", state)
	s.state = state
	if s.stateCB != nil {
		s.stateCB(s)
	}
}

func (s *Stream) request(n int) {
	if s.state != StreamReady {
		return
	}
	s.writable += n
	if s.writable > 0 && s.writeCB != nil {
		s.writeCB(s, s.writable)
	}
}

// BeginWrite returns a buffer to be filled and passed to Write.
// The buffer is owned by the stream and holds at most n bytes,
// at most MaxWriteSize, rounded down to whole frames.
func (s *Stream) BeginWrite(n int) ([]byte, error) {
	if s.state != StreamReady || s.writing {
		return nil, ErrBadState
	}
	if n <= 0 {
		return nil, ErrInvalidArgument
	}
	frame := s.create.FrameSize()
	if n > len(s.buf) {
		n = len(s.buf)
	}
	n -= n % frame
	if n == 0 {
		n = frame
	}
	s.writing = true
	return s.buf[:n], nil
}

// CancelWrite abandons the buffer returned by BeginWrite.
func (s *Stream) CancelWrite() { s.writing = false }

// Write queues data for the server. The length must be a multiple of the
// frame size. The data is copied, so Write never waits for the server and
// a buffer from BeginWrite can be requested again right away.
func (s *Stream) Write(data []byte, seek SeekMode) error {
	s.writing = false
	if s.state != StreamReady {
		return ErrBadState
	}
	if seek != SeekRelative || len(data)%s.create.FrameSize() != 0 {
		return ErrInvalidArgument
	}
	if len(data) == 0 {
		return nil
	}
	if err := s.ctx.c.Send(s.reply.StreamIndex, data); err != nil {
		return err
	}
	s.writable -= len(data)
	if s.writable < 0 {
		s.writable = 0
	}
	return nil
}

// Cork pauses or resumes playback. done, if not nil, is called on the loop
// goroutine with the result.
func (s *Stream) Cork(corked bool, done func(error)) error {
	if s.state != StreamReady {
		return ErrBadState
	}
	s.ctx.request(&proto.CorkPlaybackStream{StreamIndex: s.reply.StreamIndex, Corked: corked}, nil, done)
	return nil
}

// Flush discards the data buffered by the server.
func (s *Stream) Flush(done func(error)) error {
	if s.state != StreamReady {
		return ErrBadState
	}
	s.ctx.request(&proto.FlushPlaybackStream{StreamIndex: s.reply.StreamIndex}, nil, done)
	return nil
}

// Drain calls done once the server has played all buffered data.
func (s *Stream) Drain(done func(error)) error {
	if s.state != StreamReady {
		return ErrBadState
	}
	s.ctx.request(&proto.DrainPlaybackStream{StreamIndex: s.reply.StreamIndex}, nil, done)
	return nil
}

// Disconnect deletes the stream on the server and moves it to StreamTerminated.
func (s *Stream) Disconnect() {
	if s.state.Final() {
		return
	}
	if s.state == StreamReady && s.ctx.state == ContextReady {
		s.ctx.request(&proto.DeletePlaybackStream{StreamIndex: s.reply.StreamIndex}, nil, nil)
	}
	s.terminate()
}

func (s *Stream) terminate() {
	s.detach()
	s.setState(StreamTerminated)
}

func (s *Stream) fail(err error) {
	if s.state.Final() {
		return
	}
	s.err = err
	s.detach()
	s.setState(StreamFailed)
}

func (s *Stream) detach() {
	if s.state == StreamReady && s.ctx.streams[s.reply.StreamIndex] == s {
		delete(s.ctx.streams, s.reply.StreamIndex)
	}
	s.writing = false
	s.writable = 0
}
