// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
	"github.com/dtn7/orlink-go/pkg/transport"
)

var (
	initiatorAddr = net.IPv4(192, 0, 2, 1)
	responderAddr = net.IPv4(192, 0, 2, 2)
)

type peer struct {
	h   *Handshake
	dec *cell.Decoder
}

func newKeys(t *testing.T) *linkcrypto.KeySet {
	_, identity, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ks, err := linkcrypto.NewKeySet(identity, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return ks
}

// fakeExporter derives the same bytes on both ends of a link, like a shared TLS session would.
func fakeExporter(secret string) transport.Exporter {
	return func(label string, context []byte, length int) ([]byte, error) {
		sum := sha256.Sum256(append([]byte(secret+label), context...))
		return sum[:length], nil
	}
}

// pairConfs creates matching Configurations for an authenticating initiator and a responder on a TLS-like link.
func pairConfs(initKeys, respKeys *linkcrypto.KeySet) (initConf, respConf Configuration) {
	initConf = Configuration{
		Role:     linkcrypto.Initiator,
		Versions: []uint16{3, 4, 5},
		Suite:    initKeys,
		PeerInfo: transport.PeerInfo{
			RemoteAddr: &net.TCPAddr{IP: responderAddr, Port: 9001},
			CertDigest: respKeys.LinkCertDigest(),
			Exporter:   fakeExporter("session"),
		},
		ExpectedIdentity:   respKeys.Digest(),
		Authenticate:       true,
		ClockSkewTolerance: time.Hour,
	}

	respConf = Configuration{
		Role:     linkcrypto.Responder,
		Versions: []uint16{2, 3, 4},
		Suite:    respKeys,
		PeerInfo: transport.PeerInfo{
			RemoteAddr:      &net.TCPAddr{IP: initiatorAddr, Port: 40000},
			LocalCertDigest: respKeys.LinkCertDigest(),
			Exporter:        fakeExporter("session"),
		},
		AdvertisedAddrs:    []net.IP{responderAddr},
		ClockSkewTolerance: time.Hour,
	}
	return
}

// feed received bytes into a peer, returning everything it wants to send.
func feed(t *testing.T, p *peer, wire []byte) (out []Outgoing, err error) {
	_, _ = p.dec.Write(wire)

	for {
		c, w, decErr := p.dec.Next()
		if errors.Is(decErr, cell.ErrNeedMoreData) {
			return
		} else if decErr != nil {
			t.Fatal(decErr)
		}

		step, handleErr := p.h.Handle(c, w)
		for handleErr == nil && step.Verify != nil {
			out = append(out, step.Send...)
			step, handleErr = p.h.Resume(step.Verify())
		}
		if handleErr != nil {
			return out, handleErr
		}
		out = append(out, step.Send...)

		p.dec.SetLinkVersion(p.h.LinkVersion())
	}
}

// runHandshake exchanges cells between both Handshakes until neither has anything to send.
func runHandshake(t *testing.T, initConf, respConf Configuration) (initiator, responder *peer, initErr, respErr error) {
	initiator = &peer{h: New(initConf), dec: cell.NewDecoder()}
	responder = &peer{h: New(respConf), dec: cell.NewDecoder()}

	initStep, err := initiator.h.Start()
	if err != nil {
		t.Fatal(err)
	}
	respStep, err := responder.h.Start()
	if err != nil {
		t.Fatal(err)
	}

	toResp, toInit := initStep.Send, respStep.Send
	for len(toResp)+len(toInit) > 0 && initErr == nil && respErr == nil {
		var nextToResp, nextToInit []Outgoing

		for _, o := range toResp {
			var out []Outgoing
			out, respErr = feed(t, responder, o.Wire)
			nextToInit = append(nextToInit, out...)
			if respErr != nil {
				break
			}
		}
		for _, o := range toInit {
			var out []Outgoing
			out, initErr = feed(t, initiator, o.Wire)
			nextToResp = append(nextToResp, out...)
			if initErr != nil {
				break
			}
		}

		toResp, toInit = nextToResp, nextToInit
	}
	return
}

func TestHandshakeAuthenticated(t *testing.T) {
	initKeys, respKeys := newKeys(t), newKeys(t)
	initConf, respConf := pairConfs(initKeys, respKeys)

	initiator, responder, initErr, respErr := runHandshake(t, initConf, respConf)
	if initErr != nil || respErr != nil {
		t.Fatalf("handshake failed: %v, %v", initErr, respErr)
	}

	for _, p := range []*peer{initiator, responder} {
		if p.h.State() != Open {
			t.Fatalf("handshake is in state %v", p.h.State())
		}
		if p.h.LinkVersion() != 4 {
			t.Fatalf("negotiated version %d instead of 4", p.h.LinkVersion())
		}
		if !p.h.Authenticated() {
			t.Fatalf("peer is not authenticated")
		}
	}

	if initiator.h.PeerIdentity() != respKeys.Digest() {
		t.Fatalf("initiator sees a wrong responder identity")
	}
	if responder.h.PeerIdentity() != initKeys.Digest() {
		t.Fatalf("responder sees a wrong initiator identity")
	}

	if !initiator.h.Canonical() || responder.h.Canonical() {
		t.Fatalf("unexpected canonical flags: %t, %t", initiator.h.Canonical(), responder.h.Canonical())
	}
	if !initiator.h.ObservedAddr().Equal(initiatorAddr) {
		t.Fatalf("initiator was observed at %v", initiator.h.ObservedAddr())
	}

	expected := PhaseVersions | PhaseCerts | PhaseAuthChallenge | PhaseNetinfo
	if p := initiator.h.Phases(); p != expected {
		t.Fatalf("initiator completed %v", p)
	}
	if p := responder.h.Phases(); p != PhaseVersions|PhaseCerts|PhaseAuthenticate|PhaseNetinfo {
		t.Fatalf("responder completed %v", p)
	}
}

func TestHandshakeUnauthenticatedInitiator(t *testing.T) {
	initKeys, respKeys := newKeys(t), newKeys(t)
	initConf, respConf := pairConfs(initKeys, respKeys)
	initConf.Authenticate = false

	initiator, responder, initErr, respErr := runHandshake(t, initConf, respConf)
	if initErr != nil || respErr != nil {
		t.Fatalf("handshake failed: %v, %v", initErr, respErr)
	}
	if initiator.h.State() != Open || responder.h.State() != Open {
		t.Fatalf("handshake is not open: %v, %v", initiator.h.State(), responder.h.State())
	}
	if responder.h.Authenticated() || !responder.h.PeerIdentity().IsZero() {
		t.Fatalf("responder claims an authenticated initiator")
	}

	respConf.RequireAuthentication = true
	_, responder, _, respErr = runHandshake(t, initConf, respConf)
	if !linkerr.Is(respErr, linkerr.ProtocolViolation) || responder.h.State() != Failed {
		t.Fatalf("expected a failed responder, got %v in %v", respErr, responder.h.State())
	}
}

func TestHandshakeCryptoFailures(t *testing.T) {
	initKeys, respKeys, stranger := newKeys(t), newKeys(t), newKeys(t)

	tests := []struct {
		name      string
		modify    func(initConf, respConf *Configuration)
		initiator bool
	}{
		{"unexpected identity", func(i, _ *Configuration) { i.ExpectedIdentity = stranger.Digest() }, true},
		{"foreign TLS certificate", func(i, _ *Configuration) { i.PeerInfo.CertDigest = stranger.LinkCertDigest() }, true},
		{"other TLS session", func(_, r *Configuration) { r.PeerInfo.Exporter = fakeExporter("other") }, false},
		{"other server certificate", func(_, r *Configuration) { r.PeerInfo.LocalCertDigest = stranger.LinkCertDigest() }, false},
	}

	for _, test := range tests {
		initConf, respConf := pairConfs(initKeys, respKeys)
		test.modify(&initConf, &respConf)

		_, _, initErr, respErr := runHandshake(t, initConf, respConf)

		err := respErr
		if test.initiator {
			err = initErr
		}
		if !linkerr.Is(err, linkerr.CryptoFailure) {
			t.Fatalf("%s: expected crypto failure, got %v / %v", test.name, initErr, respErr)
		}
	}
}

func TestHandshakeLegacy(t *testing.T) {
	initKeys, respKeys := newKeys(t), newKeys(t)
	initConf, respConf := pairConfs(initKeys, respKeys)
	initConf.Versions = []uint16{2}

	if _, _, initErr, _ := runHandshake(t, initConf, respConf); !linkerr.Is(initErr, linkerr.CryptoFailure) {
		t.Fatalf("legacy link to an expected identity did not fail: %v", initErr)
	}

	initConf.ExpectedIdentity = linkcrypto.Digest{}
	initiator, responder, initErr, respErr := runHandshake(t, initConf, respConf)
	if initErr != nil || respErr != nil {
		t.Fatalf("handshake failed: %v, %v", initErr, respErr)
	}

	for _, p := range []*peer{initiator, responder} {
		if p.h.State() != Open || p.h.LinkVersion() != 2 || p.h.Authenticated() {
			t.Fatalf("unexpected legacy handshake result: %v, %d, %t",
				p.h.State(), p.h.LinkVersion(), p.h.Authenticated())
		}
	}
}

func TestHandshakeNoCommonVersion(t *testing.T) {
	initKeys, respKeys := newKeys(t), newKeys(t)
	initConf, respConf := pairConfs(initKeys, respKeys)
	initConf.Versions = []uint16{5}

	_, _, initErr, respErr := runHandshake(t, initConf, respConf)
	if !linkerr.Is(initErr, linkerr.ProtocolViolation) && !linkerr.Is(respErr, linkerr.ProtocolViolation) {
		t.Fatalf("expected a protocol violation, got %v / %v", initErr, respErr)
	}
}

func TestHandshakeClockSkew(t *testing.T) {
	initKeys, respKeys := newKeys(t), newKeys(t)
	initConf, respConf := pairConfs(initKeys, respKeys)
	respConf.Clock = func() time.Time { return time.Now().Add(2 * time.Hour) }

	initiator, _, initErr, respErr := runHandshake(t, initConf, respConf)
	if initErr != nil || respErr != nil {
		t.Fatalf("clock skew failed the handshake: %v, %v", initErr, respErr)
	}

	if skew := initiator.h.ClockSkew(); skew > -2*time.Hour+5*time.Second || skew < -2*time.Hour-5*time.Second {
		t.Fatalf("unexpected clock skew %v", skew)
	}
}

func encodeCell(t *testing.T, c cell.Cell, version uint16) []byte {
	wire, err := cell.Encode(c, version)
	if err != nil {
		t.Fatal(err)
	}
	return wire
}

func TestHandshakeOrdering(t *testing.T) {
	keys := newKeys(t)
	netinfo, _ := cell.NewNetinfo(time.Now(), nil, nil).Cell()
	versions, _ := cell.NewVersions([]uint16{3, 4})
	certs, _ := cell.NewCerts(keys.LocalCerts(linkcrypto.Responder))

	tests := []struct {
		name  string
		cells []cell.Cell
	}{
		{"NETINFO before VERSIONS", []cell.Cell{netinfo}},
		{"CERTS before VERSIONS", []cell.Cell{certs}},
		{"duplicate VERSIONS", []cell.Cell{versions, versions}},
		{"NETINFO before CERTS", []cell.Cell{versions, netinfo}},
		{"AUTHENTICATE to initiator", []cell.Cell{versions, {Command: cell.AUTHENTICATE}}},
	}

	for _, test := range tests {
		h := New(Configuration{
			Role:     linkcrypto.Initiator,
			Versions: []uint16{3, 4},
			Suite:    keys,
		})
		if _, err := h.Start(); err != nil {
			t.Fatal(err)
		}

		var err error
		for _, c := range test.cells {
			if _, err = h.Handle(c, encodeCell(t, c, h.LinkVersion())); err != nil {
				break
			}
		}

		if !linkerr.Is(err, linkerr.ProtocolViolation) || h.State() != Failed {
			t.Fatalf("%s: expected a protocol violation, got %v in %v", test.name, err, h.State())
		}
		if _, err := h.Handle(netinfo, nil); err == nil {
			t.Fatalf("%s: failed handshake accepted another cell", test.name)
		}
	}
}

func TestHandshakePaddingBeforeVersions(t *testing.T) {
	h := New(Configuration{Role: linkcrypto.Responder, Versions: []uint16{3}, Suite: newKeys(t)})
	_, _ = h.Start()

	padding := cell.MustNewFixed(0, cell.PADDING, nil)
	if _, err := h.Handle(padding, encodeCell(t, padding, 0)); err != nil {
		t.Fatal(err)
	}
	if h.State() != VersionsWait {
		t.Fatalf("padding changed the state to %v", h.State())
	}

	negotiate := cell.MustNewFixed(0, cell.PADDING_NEGOTIATE, nil)
	if _, err := h.Handle(negotiate, encodeCell(t, negotiate, 0)); !linkerr.Is(err, linkerr.ProtocolViolation) {
		t.Fatalf("PADDING_NEGOTIATE before VERSIONS: %v", err)
	}
}

func TestHandshakeNetinfoUpdate(t *testing.T) {
	initKeys, respKeys := newKeys(t), newKeys(t)
	initConf, respConf := pairConfs(initKeys, respKeys)

	initiator, _, initErr, respErr := runHandshake(t, initConf, respConf)
	if initErr != nil || respErr != nil {
		t.Fatalf("handshake failed: %v, %v", initErr, respErr)
	}

	other := net.IPv4(198, 51, 100, 7)
	netinfo, _ := cell.NewNetinfo(time.Now(), other, []net.IP{responderAddr}).Cell()

	step, err := initiator.h.Handle(netinfo, encodeCell(t, netinfo, 4))
	if err != nil {
		t.Fatal(err)
	}
	if len(step.Send) != 0 || initiator.h.State() != Open {
		t.Fatalf("NETINFO on an open link changed the handshake")
	}
	if !initiator.h.ObservedAddr().Equal(other) {
		t.Fatalf("observed address was not updated")
	}
}
