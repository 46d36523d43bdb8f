package proto

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/rk-labs/pulse/internal/log"
)

// controlChannel is the channel index of command packets.
const controlChannel = 0xFFFFFFFF

// headerSize is the size of a packet descriptor:
// length, channel, offset (64 bit) and flags.
const headerSize = 20

// ErrClosed is returned by requests on a client whose connection is gone.
var ErrClosed = errors.New("pulseaudio: connection closed")

// A Client exchanges packets with a server over a single connection.
// Requests may be issued from any goroutine; replies are matched by tag.
// Messages the server sends on its own are passed to Callback, which is
// called from the reading goroutine.
//
// Outgoing packets are queued and written in order by a background
// goroutine, so sending never waits for the server.
type Client struct {
	r ProtocolReader
	w ProtocolWriter

	replyM     sync.Mutex
	v          Version
	nextID     uint32
	awaitReply map[uint32]awaitReply
	err        error

	queueM sync.Mutex
	queue  []packet
	wake   chan struct{}
	closed chan struct{}

	Callback           func(interface{})
	OnConnectionClosed func()
}

type packet struct {
	index uint32
	data  []byte
	buf   *bytebufferpool.ByteBuffer
}

// awaitReply is a pending request. Exactly one of reply and done is set.
type awaitReply struct {
	value interface{}
	reply chan<- error
	done  func(error)
}

func (c *Client) Version() Version {
	c.replyM.Lock()
	defer c.replyM.Unlock()
	return c.v
}

// SetVersion lowers the protocol version to what the server supports.
func (c *Client) SetVersion(v Version) {
	c.replyM.Lock()
	c.v = c.v.Min(v)
	c.replyM.Unlock()
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.replyM.Lock()
	defer c.replyM.Unlock()
	return c.err
}

// Open starts reading from and writing to rw.
func (c *Client) Open(rw io.ReadWriter) {
	c.r.r = bufio.NewReader(rw)
	c.w.w = rw
	c.v = ClientVersion

	c.wake = make(chan struct{}, 1)
	c.closed = make(chan struct{})
	c.awaitReply = make(map[uint32]awaitReply)
	go c.readLoop()
	go c.writeLoop()
}

// Request sends a command and waits for the reply, which is decoded into rpl.
// If rpl is nil, the content of the reply is discarded.
func (c *Client) Request(req RequestArgs, rpl Reply) error {
	reply := make(chan error, 1)
	tag, err := c.register(req, rpl, awaitReply{reply: reply})
	if err != nil {
		return err
	}
	defer func() {
		c.replyM.Lock()
		delete(c.awaitReply, tag)
		c.replyM.Unlock()
	}()

	select {
	case err := <-reply:
		return err
	case <-c.closed:
		return c.Err()
	}
}

// RequestAsync sends a command without waiting. done is called exactly once
// with the result, from the reading goroutine before any packet that
// follows the reply is handled. If the connection is already gone, done
// is called before RequestAsync returns. done must not block.
func (c *Client) RequestAsync(req RequestArgs, rpl Reply, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if _, err := c.register(req, rpl, awaitReply{done: done}); err != nil {
		done(err)
	}
}

// register assigns a tag to a request and queues the command packet.
func (c *Client) register(req RequestArgs, rpl Reply, a awaitReply) (uint32, error) {
	if rpl != nil {
		if req.command() != rpl.IsReplyTo() {
			return 0, fmt.Errorf("pulseaudio: wrong reply type, got %d but expected %d", rpl.IsReplyTo(), req.command())
		}
		a.value = rpl
	}

	c.replyM.Lock()
	if c.err != nil {
		c.replyM.Unlock()
		return 0, c.err
	}
	tag := c.nextID
	c.nextID++
	c.awaitReply[tag] = a
	v := c.v
	c.replyM.Unlock()

	var buf bytes.Buffer
	w := ProtocolWriter{w: &buf}
	w.byte('L')
	w.uint32(req.command())
	w.byte('L')
	w.uint32(tag)
	w.value(req, v)
	w.flush()
	c.enqueue(packet{index: controlChannel, data: buf.Bytes()})
	return tag, nil
}

// Send queues a memory block for a stream. data is copied into a pooled
// buffer, so the caller may reuse it as soon as Send returns.
// Write errors end the connection and are reported through
// OnConnectionClosed.
func (c *Client) Send(index uint32, data []byte) error {
	if err := c.Err(); err != nil {
		return err
	}
	b := bytebufferpool.Get()
	b.Write(data)
	c.enqueue(packet{index: index, data: b.B, buf: b})
	return nil
}

func (c *Client) enqueue(p packet) {
	c.queueM.Lock()
	c.queue = append(c.queue, p)
	c.queueM.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) writeLoop() {
	for {
		c.queueM.Lock()
		batch := c.queue
		c.queue = nil
		c.queueM.Unlock()
		if len(batch) == 0 {
			select {
			case <-c.wake:
				continue
			case <-c.closed:
				return
			}
		}
		for i, p := range batch {
			c.w.uint32(uint32(len(p.data)))
			c.w.uint32(p.index)
			c.w.uint64(0)
			c.w.uint32(0)
			c.w.flush()
			err := c.w.err
			if err == nil {
				_, err = c.w.w.Write(p.data)
			}
			if p.buf != nil {
				bytebufferpool.Put(p.buf)
			}
			if err != nil {
				for _, p := range batch[i+1:] {
					if p.buf != nil {
						bytebufferpool.Put(p.buf)
					}
				}
				c.error(err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	for {
		length := c.r.uint32()
		index := c.r.uint32()
		c.r.uint64() // offset
		c.r.uint32() // flags
		if c.r.err != nil {
			c.error(c.r.err)
			return
		}
		if index != controlChannel {
			data := c.r.tmpbytes(int(length))
			if c.r.err != nil {
				c.error(c.r.err)
				return
			}
			if c.Callback != nil {
				c.Callback(&DataPacket{index, data})
			}
			continue
		}

		start := c.r.pos
		c.r.byte() // L
		op := c.r.uint32()
		c.r.byte() // L
		tag := c.r.uint32()
		switch op {
		case OpError:
			c.r.byte() // L
			err := Error(c.r.uint32())
			c.reply(tag, err)
		case OpReply:
			c.replyM.Lock()
			a, ok := c.awaitReply[tag]
			v := c.v
			c.replyM.Unlock()
			if ok && a.value != nil {
				c.r.value(a.value, v)
			}
			if ok {
				c.reply(tag, c.r.err)
			}
		default:
			message := newMessage(op)
			if message == nil {
				log.Debug("pulseaudio: ignoring message", "op", op)
				break
			}
			c.r.value(message, c.Version())
			if c.r.err == nil && c.Callback != nil {
				c.Callback(message)
			}
		}
		if c.r.err != nil {
			c.error(c.r.err)
			return
		}
		if rest := int(length) - (c.r.pos - start); rest > 0 {
			c.r.advance(rest)
		}
	}
}

func newMessage(op uint32) interface{} {
	switch op {
	case OpRequest:
		return &Request{}
	case OpOverflow:
		return &Overflow{}
	case OpUnderflow:
		return &Underflow{}
	case OpPlaybackStreamKilled:
		return &PlaybackStreamKilled{}
	case OpPlaybackStreamSuspended:
		return &PlaybackStreamSuspended{}
	case OpPlaybackStreamMoved:
		return &PlaybackStreamMoved{}
	case OpStarted:
		return &Started{}
	case OpPlaybackStreamEvent:
		return &PlaybackStreamEvent{}
	case OpPlaybackBufferAttrChanged:
		return &PlaybackBufferAttrChanged{}
	}
	return nil
}

// reply completes the request waiting for tag. Asynchronous requests are
// removed here; Request removes its own entry.
func (c *Client) reply(tag uint32, err error) {
	c.replyM.Lock()
	a, ok := c.awaitReply[tag]
	if ok && a.done != nil {
		delete(c.awaitReply, tag)
	}
	c.replyM.Unlock()
	switch {
	case !ok:
	case a.done != nil:
		a.done(err)
	default:
		a.reply <- err
	}
}

// error records the first error, wakes all waiting requests and
// reports the closed connection.
func (c *Client) error(err error) {
	c.replyM.Lock()
	if c.err != nil {
		c.replyM.Unlock()
		return
	}
	if errors.Is(err, io.EOF) {
		err = ErrClosed
	}
	c.err = err
	close(c.closed)
	var pending []uint32
	for tag, a := range c.awaitReply {
		if a.done != nil {
			pending = append(pending, tag)
		}
	}
	slices.Sort(pending)
	done := make([]func(error), len(pending))
	for i, tag := range pending {
		done[i] = c.awaitReply[tag].done
		delete(c.awaitReply, tag)
	}
	c.replyM.Unlock()
	for _, f := range done {
		f(err)
	}
	if c.OnConnectionClosed != nil {
		c.OnConnectionClosed()
	}
}
