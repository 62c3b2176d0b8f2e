// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"context"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
	"github.com/dtn7/orlink-go/pkg/transport"
)

// OpenFunc is called with a Channel after its handshake was completed, or with the error which prevented it.
type OpenFunc func(ch *Channel, err error)

// connecting is an outgoing Channel not yet open, possibly awaited by multiple callers.
type connecting struct {
	identity linkcrypto.Digest
	waiters  []OpenFunc
}

// Manager creates and supervises the Channels of one relay or client. It owns the Registry and forwards Status
// updates to its StatusChannel. Except for NewManager and StatusChannel, all methods must be called on the Loop.
type Manager struct {
	conf     Config
	loop     *Loop
	suite    linkcrypto.Suite
	handler  Handler
	metrics  Metrics
	registry *Registry

	listeners []transport.Listener

	// connecting holds outgoing Channels by their expected identity, pending those by their Channel ID.
	connecting map[linkcrypto.Digest]*connecting
	pending    map[uint64]*connecting

	// statusChnl receives Status updates. It is buffered and never blocks the Loop; updates are dropped if it is full.
	statusChnl chan Status

	closed bool
}

// NewManager creates a Manager for Channels on the Loop. A nil Handler ignores everything, a nil Metrics is
// replaced by NoopMetrics.
func NewManager(conf Config, loop *Loop, suite linkcrypto.Suite, handler Handler, metrics Metrics) *Manager {
	if handler == nil {
		handler = HandlerFuncs{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	return &Manager{
		conf:     conf.normalized(),
		loop:     loop,
		suite:    suite,
		handler:  handler,
		metrics:  metrics,
		registry: NewRegistry(),

		connecting: make(map[linkcrypto.Digest]*connecting),
		pending:    make(map[uint64]*connecting),

		statusChnl: make(chan Status, 100),
	}
}

// Loop of this Manager.
func (m *Manager) Loop() *Loop {
	return m.loop
}

// Registry of this Manager's Channels.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// StatusChannel receives a Status for each opened and closed Channel. It is closed by Close and might be read from
// any goroutine.
func (m *Manager) StatusChannel() <-chan Status {
	return m.statusChnl
}

// OpenOutbound creates a Channel as the initiator on a connected Transport and starts its handshake. A non-zero
// expected identity fails the Channel if the responder proves another identity.
func (m *Manager) OpenOutbound(tr transport.Transport, expected linkcrypto.Digest) (*Channel, error) {
	return m.open(tr, linkcrypto.Initiator, expected)
}

// AcceptInbound creates a Channel as the responder on an accepted Transport and starts its handshake.
func (m *Manager) AcceptInbound(tr transport.Transport) (*Channel, error) {
	return m.open(tr, linkcrypto.Responder, linkcrypto.Digest{})
}

func (m *Manager) open(tr transport.Transport, role linkcrypto.Role, expected linkcrypto.Digest) (*Channel, error) {
	if m.closed {
		_ = tr.Close()
		return nil, ErrManagerClosed
	}

	ch := newChannel(m, tr, role, expected)
	m.registry.add(ch)
	ch.start()
	return ch, nil
}

// Dial an address and open a Channel to it. The OpenFunc is called on the Loop once the Channel is open or has failed.
func (m *Manager) Dial(ctx context.Context, dialer transport.Dialer, address string, expected linkcrypto.Digest, done OpenFunc) {
	if m.closed {
		done(nil, ErrManagerClosed)
		return
	}

	m.dial(ctx, dialer, address, &connecting{identity: expected, waiters: []OpenFunc{done}})
}

// GetOrOpen passes the preferred open Channel to a peer, or dials the peer if there is none. Concurrent requests for
// the same identity share one dial. The OpenFunc is called on the Loop.
func (m *Manager) GetOrOpen(ctx context.Context, dialer transport.Dialer, address string, identity linkcrypto.Digest, done OpenFunc) {
	if m.closed {
		done(nil, ErrManagerClosed)
		return
	}

	if ch, ok := m.registry.LookupByIdentity(identity); ok {
		done(ch, nil)
		return
	}

	if conn, ok := m.connecting[identity]; ok {
		conn.waiters = append(conn.waiters, done)
		return
	}

	conn := &connecting{identity: identity, waiters: []OpenFunc{done}}
	if !identity.IsZero() {
		m.connecting[identity] = conn
	}
	m.dial(ctx, dialer, address, conn)
}

func (m *Manager) dial(ctx context.Context, dialer transport.Dialer, address string, conn *connecting) {
	logger := log.WithFields(log.Fields{
		"address":  address,
		"identity": conn.identity.Short(),
	})
	logger.Debug("Dialing peer")

	go func() {
		tr, err := dialer.Dial(ctx, address)

		m.loop.Post(func() {
			if err != nil {
				logger.WithError(err).Warn("Dialing peer failed")
				m.resolve(conn, nil, linkerr.Wrap(linkerr.TransportError, err, "dialing "+address))
				return
			}

			ch, openErr := m.OpenOutbound(tr, conn.identity)
			if openErr != nil {
				m.resolve(conn, nil, openErr)
				return
			}
			if ch.state.IsTerminal() {
				m.resolve(conn, nil, ch.reason)
				return
			}
			m.pending[ch.id] = conn
		})
	}()
}

// resolve an outgoing connection attempt for all its waiters.
func (m *Manager) resolve(conn *connecting, ch *Channel, err error) {
	if m.connecting[conn.identity] == conn {
		delete(m.connecting, conn.identity)
	}

	for _, done := range conn.waiters {
		done(ch, err)
	}
}

// channelOpened is called by an opened Channel.
func (m *Manager) channelOpened(ch *Channel) {
	m.registry.identify(ch)
	m.report(Status{Type: ChannelOpened, Info: ch.Info()})

	if conn, ok := m.pending[ch.id]; ok {
		delete(m.pending, ch.id)
		m.resolve(conn, ch, nil)
	}
}

// channelClosed is called once by a closed Channel.
func (m *Manager) channelClosed(ch *Channel) {
	m.registry.remove(ch)
	m.report(Status{Type: ChannelClosed, Info: ch.Info(), Reason: ch.reason})

	if conn, ok := m.pending[ch.id]; ok {
		delete(m.pending, ch.id)
		m.resolve(conn, nil, ch.reason)
	}
}

func (m *Manager) report(status Status) {
	if m.closed {
		return
	}

	select {
	case m.statusChnl <- status:
	default:
		log.WithField("status", status).Debug("Dropping status update, nobody is listening")
	}
}

// Listen for incoming Transports. Each accepted Transport becomes a responder Channel.
func (m *Manager) Listen(listener transport.Listener) error {
	if m.closed {
		return ErrManagerClosed
	}

	err := listener.Start(func(tr transport.Transport) {
		m.loop.Post(func() {
			if _, err := m.AcceptInbound(tr); err != nil {
				log.WithError(err).WithField("transport", tr).Debug("Rejecting incoming transport")
			}
		})
	})
	if err != nil {
		return err
	}

	log.WithField("listener", listener).Info("Listening for channels")
	m.listeners = append(m.listeners, listener)
	return nil
}

// Snapshot of all Channels, ordered by their ID.
func (m *Manager) Snapshot() []Info {
	channels := m.registry.Channels()
	infos := make([]Info, 0, len(channels))
	for _, ch := range channels {
		infos = append(infos, ch.Info())
	}
	return infos
}

// Close all listeners and Channels. Pending dials will be rejected.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}

	var errs *multierror.Error
	for _, listener := range m.listeners {
		if err := listener.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	m.listeners = nil

	for _, ch := range m.registry.Channels() {
		ch.Close()
	}

	m.closed = true
	close(m.statusChnl)

	log.WithField("channels", m.registry.Len()).Debug("Channel manager closed")
	return errs.ErrorOrNil()
}
