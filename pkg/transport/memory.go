// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"io"
	"sync"
)

// Memory is an in-process Transport. Both ends of a pair share one event loop; written bytes are delivered to the
// peer by tasks queued on the writer's Poster. Deliveries can be stalled to simulate a congested network.
type Memory struct {
	name string
	info PeerInfo
	peer *Memory

	mutex     sync.Mutex
	sink      Sink
	post      Poster
	lowWater  int
	pending   [][]byte
	buffered  int
	inbox     [][]byte
	scheduled bool
	stalled   bool
	aboveLow  bool
	closing   bool
	closed    bool
}

// NewMemoryPair creates two connected Memory Transports. The PeerInfo of each end is given by the caller.
func NewMemoryPair(aInfo, bInfo PeerInfo) (a, b *Memory) {
	a = &Memory{name: "memory://a", info: aInfo}
	b = &Memory{name: "memory://b", info: bInfo}
	a.peer, b.peer = b, a
	return
}

func (m *Memory) String() string {
	return m.name
}

// Start delivering events. Bytes received before Start are delivered afterwards.
func (m *Memory) Start(sink Sink, post Poster, lowWater int) {
	m.mutex.Lock()
	m.sink = sink
	m.post = post
	m.lowWater = lowWater
	inbox := m.inbox
	m.inbox = nil
	m.mutex.Unlock()

	if len(inbox) > 0 {
		post(func() {
			for _, data := range inbox {
				m.receive(data)
			}
		})
	}
}

// PeerInfo of this end.
func (m *Memory) PeerInfo() PeerInfo {
	return m.info
}

// Write queues data for the peer.
func (m *Memory) Write(data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closing || m.closed {
		return ErrClosed
	}

	m.pending = append(m.pending, append([]byte(nil), data...))
	m.buffered += len(data)
	if m.buffered > m.lowWater {
		m.aboveLow = true
	}

	m.scheduleLocked()
	return nil
}

func (m *Memory) scheduleLocked() {
	if m.scheduled || m.stalled || m.post == nil {
		return
	}
	m.scheduled = true
	m.post(m.deliver)
}

// Buffered bytes not yet delivered to the peer.
func (m *Memory) Buffered() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.buffered
}

// SetStalled pauses or resumes the delivery of written bytes.
func (m *Memory) SetStalled(stalled bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.stalled = stalled
	if !stalled && (len(m.pending) > 0 || m.closing) {
		m.scheduleLocked()
	}
}

// Close this end after the pending bytes were delivered. The peer observes io.EOF.
func (m *Memory) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closing || m.closed {
		return nil
	}
	m.closing = true

	if m.post == nil {
		m.closed = true
		return nil
	}
	m.scheduleLocked()
	return nil
}

// Fail simulates a broken connection. Both ends observe err, pending bytes are lost.
func (m *Memory) Fail(err error) {
	for _, end := range []*Memory{m, m.peer} {
		end.mutex.Lock()
		wasClosed := end.closed || end.closing
		end.closed = true
		end.pending = nil
		end.buffered = 0
		sink, post := end.sink, end.post
		end.mutex.Unlock()

		if !wasClosed && post != nil {
			post(func() { sink.HandleTransportError(err) })
		}
	}
}

func (m *Memory) deliver() {
	m.mutex.Lock()
	m.scheduled = false
	if m.stalled || m.closed {
		m.mutex.Unlock()
		return
	}

	pending := m.pending
	m.pending = nil
	m.buffered = 0

	notify := m.aboveLow && !m.closing
	m.aboveLow = false

	finished := m.closing
	if finished {
		m.closed = true
	}
	sink := m.sink
	m.mutex.Unlock()

	for _, data := range pending {
		m.peer.receive(data)
	}

	if notify {
		sink.HandleWritable()
	}
	if finished {
		m.peer.receiveEOF()
	}
}

func (m *Memory) receive(data []byte) {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	if m.sink == nil {
		m.inbox = append(m.inbox, data)
		m.mutex.Unlock()
		return
	}
	sink := m.sink
	m.mutex.Unlock()

	sink.HandleRead(data)
}

func (m *Memory) receiveEOF() {
	m.mutex.Lock()
	wasClosed := m.closed || m.closing
	m.closed = true
	sink := m.sink
	m.mutex.Unlock()

	if !wasClosed && sink != nil {
		sink.HandleTransportError(fmt.Errorf("%v: %w", m.peer, io.EOF))
	}
}
