// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package handshake implements the link handshake: version negotiation, certificate exchange, the optional
// authentication of the initiator and the final NETINFO exchange.
//
// A Handshake is a pure state machine. It is fed with received link cells and returns the cells to be sent. Every
// cell produced or consumed is encoded here, so that the transcript digests used for authentication match the bytes
// on the wire. Certificate and signature checks are returned as a Step's Verify function, which might be run on
// another goroutine; the result is fed back by Resume.
package handshake

import (
	"crypto/sha256"
	"hash"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
	"github.com/dtn7/orlink-go/pkg/transport"
)

// Configuration of a Handshake.
type Configuration struct {
	// Role of this side.
	Role linkcrypto.Role

	// Versions supported by this side, in any order.
	Versions []uint16

	// Suite performs all cryptographic operations.
	Suite linkcrypto.Suite

	// PeerInfo of the underlying transport.
	PeerInfo transport.PeerInfo

	// ExpectedIdentity of the responder for outgoing links; a zero Digest accepts any identity.
	ExpectedIdentity linkcrypto.Digest

	// Authenticate the initiator by AUTHENTICATE if offered by the responder. Relays do this, clients do not.
	Authenticate bool

	// RequireAuthentication rejects initiators not sending AUTHENTICATE when acting as a responder.
	RequireAuthentication bool

	// AdvertisedAddrs are sent as this side's addresses in NETINFO.
	AdvertisedAddrs []net.IP

	// ClockSkewTolerance is the difference between the peer's NETINFO timestamp and the local clock to be logged.
	ClockSkewTolerance time.Duration

	// Clock returns the current time.
	Clock func() time.Time

	// Log is the Entry all messages are logged to.
	Log *log.Entry
}

// Outgoing is a cell to be sent together with its encoding.
type Outgoing struct {
	Cell cell.Cell
	Wire []byte
}

// Step is the result of feeding a cell into a Handshake.
type Step struct {
	// Send these cells in order.
	Send []Outgoing

	// Verify is a pending verification. It must be run, possibly on another goroutine, and its error must be passed
	// to Resume before any further cell is handled.
	Verify func() error
}

// Handshake is the link handshake state machine of one channel.
type Handshake struct {
	conf Configuration

	state       State
	done        Phase
	linkVersion uint16

	sentLog hash.Hash
	recvLog hash.Hash

	// resume continues after a pending verification.
	resume func(err error) (Step, error)

	// Responder only: the challenge and the digest of all bytes sent up to and including AUTH_CHALLENGE.
	challenge [cell.ChallengeLen]byte
	slog      [32]byte

	peerChain     *linkcrypto.PeerChain
	authenticated bool

	peerNetinfo  cell.Netinfo
	canonical    bool
	clockSkew    time.Duration
	observedAddr net.IP
}

// New Handshake in the Connecting State.
func New(conf Configuration) *Handshake {
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	if conf.Log == nil {
		conf.Log = log.NewEntry(log.StandardLogger())
	}

	return &Handshake{
		conf:    conf,
		state:   Connecting,
		sentLog: sha256.New(),
		recvLog: sha256.New(),
	}
}

// State of this Handshake.
func (h *Handshake) State() State {
	return h.state
}

// Phases completed so far.
func (h *Handshake) Phases() Phase {
	return h.done
}

// LinkVersion is the negotiated link protocol version or zero.
func (h *Handshake) LinkVersion() uint16 {
	return h.linkVersion
}

// Verifying reports a pending verification; no cell may be handled until Resume was called.
func (h *Handshake) Verifying() bool {
	return h.resume != nil
}

// PeerChain is the peer's verified certificate chain, nil for legacy links or unauthenticated initiators.
func (h *Handshake) PeerChain() *linkcrypto.PeerChain {
	return h.peerChain
}

// PeerIdentity returns the peer's identity digest, a zero Digest if the peer's identity is unknown.
func (h *Handshake) PeerIdentity() linkcrypto.Digest {
	if h.peerChain == nil || !h.authenticated {
		return linkcrypto.Digest{}
	}
	return h.peerChain.Digest
}

// Authenticated reports if the peer proved its identity.
func (h *Handshake) Authenticated() bool {
	return h.authenticated
}

// Canonical reports if the peer listed the address we see it at in its NETINFO.
func (h *Handshake) Canonical() bool {
	return h.canonical
}

// ClockSkew is the difference between the peer's NETINFO timestamp and the local clock.
func (h *Handshake) ClockSkew() time.Duration {
	return h.clockSkew
}

// ObservedAddr is our address as seen by the peer, taken from its NETINFO.
func (h *Handshake) ObservedAddr() net.IP {
	return h.observedAddr
}

// PeerNetinfo is the last received NETINFO.
func (h *Handshake) PeerNetinfo() cell.Netinfo {
	return h.peerNetinfo
}

func (h *Handshake) log() *log.Entry {
	return h.conf.Log.WithField("handshake", h.state)
}

// fail moves into the Failed State and passes the error through.
func (h *Handshake) fail(err error) (Step, error) {
	h.state = Failed
	h.resume = nil
	return Step{}, err
}

// encode a cell for the current link version and record it in the sent transcript.
func (h *Handshake) encode(c cell.Cell, step *Step) error {
	wire, err := cell.Encode(c, h.linkVersion)
	if err != nil {
		return linkerr.Wrap(linkerr.ProtocolViolation, err, "encoding "+c.Command.String())
	}

	if h.state != Open {
		_, _ = h.sentLog.Write(wire)
	}
	step.Send = append(step.Send, Outgoing{Cell: c, Wire: wire})
	return nil
}

// Start the Handshake by sending VERSIONS. Both roles announce their versions right away.
func (h *Handshake) Start() (step Step, err error) {
	if h.state != Connecting {
		return h.fail(linkerr.Violation("handshake was already started"))
	}

	versions, versionsErr := cell.NewVersions(h.conf.Versions)
	if versionsErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, versionsErr, "creating VERSIONS"))
	}
	if err = h.encode(versions, &step); err != nil {
		return h.fail(err)
	}

	h.state = VersionsWait
	h.log().WithField("versions", h.conf.Versions).Debug("Sent VERSIONS")
	return
}

// Resume after the Step's Verify function has returned.
func (h *Handshake) Resume(verifyErr error) (Step, error) {
	if h.resume == nil {
		return h.fail(linkerr.Violation("no verification is pending"))
	}

	resume := h.resume
	h.resume = nil
	return resume(verifyErr)
}

// Handle a received link management cell together with its wire representation.
func (h *Handshake) Handle(c cell.Cell, wire []byte) (Step, error) {
	switch {
	case h.state == Failed:
		return Step{}, linkerr.Violation("handshake has failed")
	case h.state == Connecting:
		return h.fail(linkerr.Violation("%v received before the handshake was started", c.Command))
	case h.resume != nil:
		return h.fail(linkerr.Violation("%v received during a pending verification", c.Command))
	}

	// AUTHENTICATE signs the transcript without itself.
	var clog [32]byte
	if h.state != Open {
		copy(clog[:], h.recvLog.Sum(nil))
		_, _ = h.recvLog.Write(wire)
	}

	switch c.Command {
	case cell.PADDING, cell.VPADDING:
		return Step{}, nil

	case cell.VERSIONS:
		if err := h.enter(PhaseVersions, h.state == VersionsWait, c.Command); err != nil {
			return h.fail(err)
		}
		return h.handleVersions(c)
	}

	if h.state == VersionsWait {
		return h.fail(linkerr.Violation("%v received before VERSIONS", c.Command))
	}

	switch c.Command {
	case cell.PADDING_NEGOTIATE:
		return Step{}, nil

	case cell.CERTS:
		if err := h.enter(PhaseCerts, h.state == CertsWait, c.Command); err != nil {
			return h.fail(err)
		}
		return h.handleCerts(c)

	case cell.AUTH_CHALLENGE:
		if err := h.enter(PhaseAuthChallenge, h.state == AuthChallengeWait, c.Command); err != nil {
			return h.fail(err)
		}
		return h.handleAuthChallenge(c)

	case cell.AUTHENTICATE:
		if err := h.enter(PhaseAuthenticate, h.state == AuthenticateWait, c.Command); err != nil {
			return h.fail(err)
		}
		return h.handleAuthenticate(c, clog)

	case cell.NETINFO:
		// NETINFO may be repeated on an open link to update addresses.
		if h.state != Open {
			expected := h.state == NetinfoWait || (h.state == CertsWait && h.conf.Role == linkcrypto.Responder)
			if err := h.enter(PhaseNetinfo, expected, c.Command); err != nil {
				return h.fail(err)
			}
		}
		return h.handleNetinfo(c)

	default:
		return h.fail(linkerr.Violation("%v is no link management command", c.Command))
	}
}

// enter a Phase if it was not completed before and is expected in the current State.
func (h *Handshake) enter(phase Phase, expected bool, cmd cell.Command) error {
	if h.done.Has(phase) {
		return linkerr.Violation("duplicate %v", cmd)
	}
	if !expected {
		return linkerr.Violation("unexpected %v in state %v", cmd, h.state)
	}

	h.done |= phase
	return nil
}

func (h *Handshake) handleVersions(c cell.Cell) (step Step, err error) {
	peerVersions, parseErr := cell.ParseVersions(c)
	if parseErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, parseErr, "parsing VERSIONS"))
	}

	version, ok := cell.NegotiateVersion(h.conf.Versions, peerVersions)
	if !ok {
		return h.fail(linkerr.Violation("no common link protocol version in %v and %v", h.conf.Versions, peerVersions))
	}
	if version < 2 {
		return h.fail(linkerr.Violation("link protocol version %d is not supported", version))
	}

	h.linkVersion = version
	h.log().WithFields(log.Fields{
		"version":       version,
		"peer versions": peerVersions,
	}).Debug("Negotiated link protocol version")

	if version < 3 {
		// Legacy links skip the certificate exchange and stay unauthenticated.
		if err = h.sendNetinfo(&step); err != nil {
			return h.fail(err)
		}
		h.state = NetinfoWait
		return
	}

	if h.conf.Role == linkcrypto.Responder {
		if err = h.sendResponderCells(&step); err != nil {
			return h.fail(err)
		}
	}

	h.state = CertsWait
	return
}

func (h *Handshake) handleCerts(c cell.Cell) (step Step, err error) {
	certs, parseErr := cell.ParseCerts(c)
	if parseErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, parseErr, "parsing CERTS"))
	}

	peerRole := linkcrypto.Initiator
	var linkCertDigest []byte
	if h.conf.Role == linkcrypto.Initiator {
		peerRole = linkcrypto.Responder
		linkCertDigest = h.conf.PeerInfo.CertDigest
	}

	suite := h.conf.Suite
	now := h.conf.Clock()

	var chain *linkcrypto.PeerChain
	step.Verify = func() (verifyErr error) {
		chain, verifyErr = suite.VerifyCertChain(peerRole, certs, linkCertDigest, now)
		return
	}

	h.resume = func(verifyErr error) (Step, error) {
		if verifyErr != nil {
			if !linkerr.Is(verifyErr, linkerr.CryptoFailure) {
				verifyErr = linkerr.Wrap(linkerr.CryptoFailure, verifyErr, "verifying CERTS")
			}
			return h.fail(verifyErr)
		}

		if h.conf.Role == linkcrypto.Initiator {
			return h.certsVerifiedByInitiator(chain)
		}
		return h.certsVerifiedByResponder(chain)
	}
	return
}
