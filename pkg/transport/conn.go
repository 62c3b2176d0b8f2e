// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// readChunkSize is the maximum amount of bytes passed to a single Sink.HandleRead.
	readChunkSize = 16 * 1024

	// closeLinger bounds the time a closing Conn waits for its write buffer to be flushed.
	closeLinger = 5 * time.Second
)

// Conn is a Transport on top of any stream. A reader goroutine forwards received bytes to the event loop, while a
// writer goroutine drains the write buffer.
type Conn struct {
	stream io.ReadWriteCloser
	info   PeerInfo
	name   string

	sink     Sink
	post     Poster
	lowWater int

	mutex    sync.Mutex
	cond     *sync.Cond
	buf      []byte
	inflight int
	aboveLow bool
	started  bool
	closing  bool

	// finished is accessed by sync.atomic functions; zero means running, everything else indicates a finished state
	finished uint32
}

// NewConn wraps a stream. The name is used for logging, e.g., "tls://192.0.2.1:9001".
func NewConn(stream io.ReadWriteCloser, info PeerInfo, name string) *Conn {
	c := &Conn{
		stream: stream,
		info:   info,
		name:   name,
	}
	c.cond = sync.NewCond(&c.mutex)
	return c
}

func (c *Conn) String() string {
	return c.name
}

func (c *Conn) log() *log.Entry {
	return log.WithField("transport", c.name)
}

// Start the reader and writer goroutines.
func (c *Conn) Start(sink Sink, post Poster, lowWater int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.started {
		return
	}

	c.sink = sink
	c.post = post
	c.lowWater = lowWater
	c.started = true

	go c.handleIn()
	go c.handleOut()
}

// PeerInfo of this Conn.
func (c *Conn) PeerInfo() PeerInfo {
	return c.info
}

// Write appends data to the write buffer.
func (c *Conn) Write(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closing || atomic.LoadUint32(&c.finished) != 0 {
		return ErrClosed
	}

	c.buf = append(c.buf, data...)
	if len(c.buf)+c.inflight > c.lowWater {
		c.aboveLow = true
	}
	c.cond.Signal()
	return nil
}

// Buffered bytes which are not yet written to the stream.
func (c *Conn) Buffered() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.buf) + c.inflight
}

// Close this Conn after flushing its write buffer. Flushing is bounded by a linger timeout.
func (c *Conn) Close() error {
	c.mutex.Lock()
	if c.closing {
		c.mutex.Unlock()
		return nil
	}
	c.closing = true
	started := c.started
	c.cond.Broadcast()
	c.mutex.Unlock()

	if !started {
		c.finish(nil)
		return nil
	}

	time.AfterFunc(closeLinger, func() {
		if atomic.LoadUint32(&c.finished) == 0 {
			c.log().Debug("Write buffer was not flushed in time, closing anyway")
			c.finish(nil)
		}
	})
	return nil
}

// finish closes the stream once. Errors are only reported to the Sink if this Conn was not closed locally.
func (c *Conn) finish(err error) {
	if !atomic.CompareAndSwapUint32(&c.finished, 0, 1) {
		return
	}

	c.mutex.Lock()
	closing := c.closing
	c.cond.Broadcast()
	c.mutex.Unlock()

	if closeErr := c.stream.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		c.log().WithError(closeErr).Debug("Closing stream errored")
	}

	if err != nil && !closing {
		sink := c.sink
		c.post(func() { sink.HandleTransportError(err) })
	}
}

func (c *Conn) handleIn() {
	chunk := make([]byte, readChunkSize)

	for {
		n, err := c.stream.Read(chunk)
		if n > 0 && atomic.LoadUint32(&c.finished) == 0 {
			data := append([]byte(nil), chunk[:n]...)
			sink := c.sink
			c.post(func() { sink.HandleRead(data) })
		}

		if err != nil {
			c.finish(err)
			return
		}
	}
}

func (c *Conn) handleOut() {
	for {
		c.mutex.Lock()
		for len(c.buf) == 0 && !c.closing && atomic.LoadUint32(&c.finished) == 0 {
			c.cond.Wait()
		}

		if atomic.LoadUint32(&c.finished) != 0 {
			c.mutex.Unlock()
			return
		}
		if len(c.buf) == 0 && c.closing {
			c.mutex.Unlock()
			c.finish(nil)
			return
		}

		data := c.buf
		c.buf = nil
		c.inflight = len(data)
		c.mutex.Unlock()

		_, err := c.stream.Write(data)

		c.mutex.Lock()
		c.inflight = 0
		notify := c.aboveLow && len(c.buf) <= c.lowWater && !c.closing
		if notify {
			c.aboveLow = false
		}
		c.mutex.Unlock()

		if err != nil {
			c.finish(err)
			return
		}

		if notify {
			sink := c.sink
			c.post(sink.HandleWritable)
		}
	}
}
