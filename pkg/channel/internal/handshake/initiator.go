// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"crypto/ed25519"
	"crypto/rand"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

// exporterLabel is the RFC 5705 label binding AUTHENTICATE to the TLS session.
const exporterLabel = "EXPORTER FOR TOR TLS CLIENT BINDING AUTH0003"

// certsVerifiedByInitiator checks the responder's identity against the expected one.
func (h *Handshake) certsVerifiedByInitiator(chain *linkcrypto.PeerChain) (Step, error) {
	if !h.conf.ExpectedIdentity.IsZero() && chain.Digest != h.conf.ExpectedIdentity {
		return h.fail(linkerr.New(linkerr.CryptoFailure,
			"responder has identity %v instead of %v", chain.Digest.Short(), h.conf.ExpectedIdentity.Short()))
	}

	h.peerChain = chain
	h.authenticated = true
	h.state = AuthChallengeWait

	h.log().WithField("identity", chain.Digest.Short()).Debug("Verified responder certificates")
	return Step{}, nil
}

// handleAuthChallenge answers by CERTS and AUTHENTICATE if this side authenticates and the method is offered.
func (h *Handshake) handleAuthChallenge(c cell.Cell) (step Step, err error) {
	challenge, parseErr := cell.ParseAuthChallenge(c)
	if parseErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, parseErr, "parsing AUTH_CHALLENGE"))
	}

	h.state = NetinfoWait

	if !h.conf.Authenticate {
		h.log().Debug("Skipping authentication")
		return
	}
	if !challenge.Supports(cell.AuthMethodEd25519) {
		h.log().WithField("methods", challenge.Methods).Info("Responder offers no supported authentication method")
		return
	}

	// SLOG covers everything received so far, including this AUTH_CHALLENGE.
	var slog [32]byte
	copy(slog[:], h.recvLog.Sum(nil))

	certs, certsErr := cell.NewCerts(h.conf.Suite.LocalCerts(linkcrypto.Initiator))
	if certsErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, certsErr, "creating CERTS"))
	}
	if err = h.encode(certs, &step); err != nil {
		return h.fail(err)
	}

	body, bodyErr := h.auth0003(slog)
	if bodyErr != nil {
		return h.fail(bodyErr)
	}

	if body.Sig, err = h.conf.Suite.Sign(body.Signed()); err != nil {
		return h.fail(linkerr.Wrap(linkerr.CryptoFailure, err, "signing AUTHENTICATE"))
	}

	authenticate, authErr := cell.Authenticate{AuthType: cell.AuthMethodEd25519, Body: body.Bytes()}.Cell()
	if authErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, authErr, "creating AUTHENTICATE"))
	}
	if err = h.encode(authenticate, &step); err != nil {
		return h.fail(err)
	}

	h.log().Debug("Sent CERTS and AUTHENTICATE")
	return
}

// auth0003 creates the unsigned AUTHENTICATE body of this initiator.
func (h *Handshake) auth0003(slog [32]byte) (body cell.Auth0003, err error) {
	local := h.conf.Suite.Identity()

	body.CID = linkcrypto.IdentityDigest(local)
	body.SID = h.peerChain.Digest
	copy(body.CIDEd[:], local)
	copy(body.SIDEd[:], h.peerChain.Identity)
	body.SLog = slog
	copy(body.CLog[:], h.sentLog.Sum(nil))
	copy(body.SCert[:], h.conf.PeerInfo.CertDigest)

	if body.TLSSecrets, err = h.tlsSecrets(local); err != nil {
		return
	}

	if _, err = rand.Read(body.Rand[:]); err != nil {
		err = linkerr.Wrap(linkerr.CryptoFailure, err, "reading randomness")
	}
	return
}

// tlsSecrets exports keying material bound to the initiator's identity. Transports without TLS yield zeros.
func (h *Handshake) tlsSecrets(initiator ed25519.PublicKey) (secrets [32]byte, err error) {
	exporter := h.conf.PeerInfo.Exporter
	if exporter == nil {
		return
	}

	ekm, ekmErr := exporter(exporterLabel, initiator, len(secrets))
	if ekmErr != nil {
		err = linkerr.Wrap(linkerr.CryptoFailure, ekmErr, "exporting TLS keying material")
		return
	}
	copy(secrets[:], ekm)
	return
}

// logPeer is a helper for the final log message.
func (h *Handshake) logPeer() *log.Entry {
	fields := log.Fields{
		"version":       h.linkVersion,
		"authenticated": h.authenticated,
		"canonical":     h.canonical,
	}
	if h.peerChain != nil {
		fields["identity"] = h.peerChain.Digest.Short()
	}
	return h.log().WithFields(fields)
}
