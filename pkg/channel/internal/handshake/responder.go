// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"crypto/rand"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

// sendResponderCells sends CERTS, AUTH_CHALLENGE and NETINFO at once after the version was negotiated.
func (h *Handshake) sendResponderCells(step *Step) error {
	certs, err := cell.NewCerts(h.conf.Suite.LocalCerts(linkcrypto.Responder))
	if err != nil {
		return linkerr.Wrap(linkerr.ProtocolViolation, err, "creating CERTS")
	}
	if err = h.encode(certs, step); err != nil {
		return err
	}

	if _, err = rand.Read(h.challenge[:]); err != nil {
		return linkerr.Wrap(linkerr.CryptoFailure, err, "reading randomness")
	}

	challenge, err := cell.AuthChallenge{
		Challenge: h.challenge,
		Methods:   []uint16{cell.AuthMethodEd25519},
	}.Cell()
	if err != nil {
		return linkerr.Wrap(linkerr.ProtocolViolation, err, "creating AUTH_CHALLENGE")
	}
	if err = h.encode(challenge, step); err != nil {
		return err
	}
	copy(h.slog[:], h.sentLog.Sum(nil))

	if err = h.sendNetinfo(step); err != nil {
		return err
	}

	h.log().Debug("Sent CERTS, AUTH_CHALLENGE and NETINFO")
	return nil
}

func (h *Handshake) certsVerifiedByResponder(chain *linkcrypto.PeerChain) (Step, error) {
	h.peerChain = chain
	h.state = AuthenticateWait

	h.log().WithField("identity", chain.Digest.Short()).Debug("Verified initiator certificates")
	return Step{}, nil
}

// handleAuthenticate recomputes the initiator's claims and verifies its signature. clog is the digest of all bytes
// received before this AUTHENTICATE.
func (h *Handshake) handleAuthenticate(c cell.Cell, clog [32]byte) (step Step, err error) {
	authenticate, parseErr := cell.ParseAuthenticate(c)
	if parseErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, parseErr, "parsing AUTHENTICATE"))
	}
	if authenticate.AuthType != cell.AuthMethodEd25519 {
		return h.fail(linkerr.Violation("AUTHENTICATE uses the unoffered method %d", authenticate.AuthType))
	}

	body, parseErr := cell.ParseAuth0003(authenticate.Body)
	if parseErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, parseErr, "parsing AUTHENTICATE"))
	}

	var expected cell.Auth0003
	local := h.conf.Suite.Identity()

	expected.CID = h.peerChain.Digest
	expected.SID = linkcrypto.IdentityDigest(local)
	copy(expected.CIDEd[:], h.peerChain.Identity)
	copy(expected.SIDEd[:], local)
	expected.SLog = h.slog
	expected.CLog = clog
	copy(expected.SCert[:], h.conf.PeerInfo.LocalCertDigest)

	if expected.TLSSecrets, err = h.tlsSecrets(h.peerChain.Identity); err != nil {
		return h.fail(err)
	}

	if !body.SameClaims(expected) {
		return h.fail(linkerr.New(linkerr.CryptoFailure, "AUTHENTICATE does not match this link"))
	}

	suite := h.conf.Suite
	chain := h.peerChain
	signed := body.Signed()
	sig := body.Sig

	step.Verify = func() error {
		return suite.VerifySignature(chain, signed, sig)
	}

	h.resume = func(verifyErr error) (Step, error) {
		if verifyErr != nil {
			if !linkerr.Is(verifyErr, linkerr.CryptoFailure) {
				verifyErr = linkerr.Wrap(linkerr.CryptoFailure, verifyErr, "verifying AUTHENTICATE")
			}
			return h.fail(verifyErr)
		}

		h.authenticated = true
		h.state = NetinfoWait

		h.log().WithField("identity", h.peerChain.Digest.Short()).Debug("Initiator authenticated")
		return Step{}, nil
	}
	return
}
