// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package channel implements channels: links to peers over a Transport, carrying the cells of many circuits.
//
// A Channel runs the link handshake, decodes received bytes into cells and dispatches them either to the handshake or
// to the circuit layer's Handler. Outgoing cells are queued and written to the Transport as long as its write buffer
// stays below the configured high-water mark. All Channels of a Manager live on one Loop; no locking takes place.
package channel

import (
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/channel/internal/handshake"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
	"github.com/dtn7/orlink-go/pkg/transport"
)

// State of a Channel.
type State uint8

const (
	// Opening while the handshake is running.
	Opening State = iota

	// Open for circuit cells.
	Open

	// Maint is an open Channel whose transport is congested.
	Maint

	// Closing while the Channel is torn down.
	Closing

	// Closed after a local close.
	Closed

	// Error after a failure.
	Error
)

func (s State) String() string {
	switch s {
	case Opening:
		return "OPENING"
	case Open:
		return "OPEN"
	case Maint:
		return "MAINT"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// IsOpen reports if circuit cells might be exchanged.
func (s State) IsOpen() bool {
	return s == Open || s == Maint
}

// IsTerminal reports if the Channel is gone.
func (s State) IsTerminal() bool {
	return s == Closing || s == Closed || s == Error
}

var lastChannelID uint64

// queuedCell is an encoded cell waiting for the transport.
type queuedCell struct {
	command cell.Command
	wire    []byte
}

// pendingVerify is an offloaded verification. It is canceled when the Channel goes away before the result arrives.
type pendingVerify struct {
	canceled bool
}

// Channel is a link to a peer over one Transport. Channels are created by a Manager and must only be used on its Loop.
type Channel struct {
	id      uint64
	role    linkcrypto.Role
	conf    Config
	manager *Manager

	transport transport.Transport
	hs        *handshake.Handshake
	decoder   *cell.Decoder

	state  State
	reason error

	// verifying pauses decoding until an offloaded verification has finished.
	verifying *pendingVerify

	queue          []queuedCell
	queuedBytes    int
	parked         []cell.Cell
	flushScheduled bool

	timeout *time.Timer

	createdAt    time.Time
	openedAt     time.Time
	lastActivity time.Time

	badForNewCircuits bool

	cellsReceived uint64
	cellsSent     uint64
	violations    uint64
}

func newChannel(m *Manager, tr transport.Transport, role linkcrypto.Role, expected linkcrypto.Digest) *Channel {
	ch := &Channel{
		id:        atomic.AddUint64(&lastChannelID, 1),
		role:      role,
		conf:      m.conf,
		manager:   m,
		transport: tr,
		decoder:   cell.NewDecoder(),
		state:     Opening,
		createdAt: m.conf.Clock(),
	}
	ch.lastActivity = ch.createdAt

	ch.hs = handshake.New(handshake.Configuration{
		Role:                  role,
		Versions:              m.conf.Versions,
		Suite:                 m.suite,
		PeerInfo:              tr.PeerInfo(),
		ExpectedIdentity:      expected,
		Authenticate:          m.conf.Authenticate,
		RequireAuthentication: m.conf.RequireAuthentication,
		AdvertisedAddrs:       m.conf.AdvertisedAddrs,
		ClockSkewTolerance:    m.conf.ClockSkewTolerance,
		Clock:                 m.conf.Clock,
		Log:                   ch.log(),
	})
	return ch
}

// start the transport and the handshake.
func (ch *Channel) start() {
	ch.log().Debug("Starting channel")

	ch.transport.Start(ch, ch.manager.loop.Post, ch.conf.LowWater)

	loop := ch.manager.loop
	ch.timeout = time.AfterFunc(ch.conf.HandshakeTimeout, func() {
		loop.Post(ch.handshakeTimedOut)
	})

	ch.afterStep(ch.hs.Start())
}

func (ch *Channel) handshakeTimedOut() {
	if ch.state != Opening {
		return
	}
	ch.fail(linkerr.Violation("handshake timed out after %v in %v", ch.conf.HandshakeTimeout, ch.hs.State()))
}

func (ch *Channel) String() string {
	return fmt.Sprintf("channel(%d, %v, %v)", ch.id, ch.role, ch.transport)
}

func (ch *Channel) log() *log.Entry {
	return log.WithField("channel", ch.String())
}

// ID of this Channel, unique within the process.
func (ch *Channel) ID() uint64 {
	return ch.id
}

// Role of this side.
func (ch *Channel) Role() linkcrypto.Role {
	return ch.role
}

// State of this Channel.
func (ch *Channel) State() State {
	return ch.state
}

// LinkVersion is the negotiated link protocol version or zero.
func (ch *Channel) LinkVersion() uint16 {
	return ch.hs.LinkVersion()
}

// PeerIdentity is the authenticated identity digest of the peer, or a zero Digest.
func (ch *Channel) PeerIdentity() linkcrypto.Digest {
	return ch.hs.PeerIdentity()
}

// Authenticated reports if the peer proved its identity.
func (ch *Channel) Authenticated() bool {
	return ch.hs.Authenticated()
}

// Canonical reports if the peer is connected at an address it advertises.
func (ch *Channel) Canonical() bool {
	return ch.hs.Canonical()
}

// BadForNewCircuits is set for duplicate Channels to a peer which has a preferred Channel.
func (ch *Channel) BadForNewCircuits() bool {
	return ch.badForNewCircuits
}

// Transport of this Channel.
func (ch *Channel) Transport() transport.Transport {
	return ch.transport
}

// Reason why this Channel was closed, nil while it is alive.
func (ch *Channel) Reason() error {
	return ch.reason
}

// Queued cells not yet handed to the transport, including those parked until the handshake completes.
func (ch *Channel) Queued() int {
	return len(ch.queue) + len(ch.parked)
}

// Close this Channel. Cells not yet handed to the transport are discarded, the transport itself flushes its buffer
// before closing. Closing an already closed Channel does nothing.
func (ch *Channel) Close() {
	if ch.state.IsTerminal() {
		return
	}

	ch.log().Info("Closing channel")
	ch.teardown(Closed, linkerr.New(linkerr.LocalClose, "closed locally"))
}

// fail tears down this Channel because of an error.
func (ch *Channel) fail(err error) {
	if ch.state.IsTerminal() {
		return
	}

	entry := ch.log().WithError(err).WithField("state", ch.hs.State())
	switch kind := linkerr.KindOf(err); kind {
	case linkerr.TransportError:
		if ch.state.IsOpen() {
			entry.Info("Channel's transport was closed")
		} else {
			entry.Error("Channel's transport failed")
		}
	case linkerr.ProtocolViolation:
		ch.violations++
		ch.manager.metrics.ProtocolViolation()
		entry.Warn("Protocol violation, closing channel")
	default:
		entry.Warn("Channel failed")
	}

	ch.teardown(Error, err)
}

// teardown releases everything and reports the close exactly once.
func (ch *Channel) teardown(final State, reason error) {
	ch.reason = reason
	wasOpen := !ch.openedAt.IsZero()

	if ch.timeout != nil {
		ch.timeout.Stop()
	}
	if ch.verifying != nil {
		ch.verifying.canceled = true
		ch.verifying = nil
	}
	if ch.state == Maint {
		ch.manager.metrics.Congestion(false)
	}
	ch.state = Closing

	if discarded := ch.Queued(); discarded > 0 {
		ch.log().WithField("cells", discarded).Info("Discarding unsent cells")
		ch.manager.metrics.CellsDiscarded(discarded)
	}
	ch.queue = nil
	ch.queuedBytes = 0
	ch.parked = nil

	if err := ch.transport.Close(); err != nil {
		ch.log().WithError(err).Debug("Closing transport errored")
	}

	ch.state = final
	ch.manager.metrics.ChannelClosed(linkerr.KindOf(reason), wasOpen)
	ch.manager.channelClosed(ch)

	ch.manager.handler.OnClosed(ch, reason)
}

// opened is called after the handshake was completed.
func (ch *Channel) opened() {
	ch.timeout.Stop()

	ch.state = Open
	ch.openedAt = ch.conf.Clock()

	ch.log().WithFields(log.Fields{
		"version":       ch.LinkVersion(),
		"identity":      ch.PeerIdentity().Short(),
		"authenticated": ch.Authenticated(),
		"canonical":     ch.Canonical(),
	}).Info("Channel opened")

	ch.manager.metrics.ChannelOpened(ch.role, ch.LinkVersion())
	ch.manager.metrics.ClockSkew(ch.hs.ClockSkew())

	parked := ch.parked
	ch.parked = nil
	for _, c := range parked {
		if err := ch.enqueue(c); err != nil {
			ch.log().WithError(err).WithField("cell", c).Warn("Dropping parked cell")
		}
	}

	ch.manager.channelOpened(ch)
	ch.manager.handler.OnOpen(ch)
}

// Info is a snapshot of a Channel.
type Info struct {
	ID                uint64     `json:"id"`
	Role              string     `json:"role"`
	State             string     `json:"state"`
	Transport         string     `json:"transport"`
	RemoteAddr        string     `json:"remote_addr,omitempty"`
	LinkVersion       uint16     `json:"link_version"`
	Identity          string     `json:"identity,omitempty"`
	Authenticated     bool       `json:"authenticated"`
	Canonical         bool       `json:"canonical"`
	BadForNewCircuits bool       `json:"bad_for_new_circuits"`
	ClockSkew         string     `json:"clock_skew,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	LastActivity      time.Time  `json:"last_activity"`
	CellsReceived     uint64     `json:"cells_received"`
	CellsSent         uint64     `json:"cells_sent"`
	Violations        uint64     `json:"violations"`
	Queued            int        `json:"queued"`
	Reason            string     `json:"reason,omitempty"`
}

// Info returns a snapshot of this Channel.
func (ch *Channel) Info() Info {
	info := Info{
		ID:                ch.id,
		Role:              ch.role.String(),
		State:             ch.state.String(),
		Transport:         ch.transport.String(),
		LinkVersion:       ch.LinkVersion(),
		Authenticated:     ch.Authenticated(),
		Canonical:         ch.Canonical(),
		BadForNewCircuits: ch.badForNewCircuits,
		CreatedAt:         ch.createdAt,
		LastActivity:      ch.lastActivity,
		CellsReceived:     ch.cellsReceived,
		CellsSent:         ch.cellsSent,
		Violations:        ch.violations,
		Queued:            ch.Queued(),
	}

	if addr := ch.transport.PeerInfo().RemoteAddr; addr != nil {
		info.RemoteAddr = addr.String()
	}
	if identity := ch.PeerIdentity(); !identity.IsZero() {
		info.Identity = identity.String()
	}
	if !ch.openedAt.IsZero() {
		openedAt := ch.openedAt
		info.OpenedAt = &openedAt
	}
	if ch.state.IsOpen() {
		info.ClockSkew = ch.hs.ClockSkew().Round(time.Second).String()
	}
	if ch.reason != nil {
		info.Reason = ch.reason.Error()
	}
	return info
}
