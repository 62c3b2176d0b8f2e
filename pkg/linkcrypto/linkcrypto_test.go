// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package linkcrypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

func newTestKeySet(t *testing.T, now time.Time) *KeySet {
	_, identity, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	ks, err := NewKeySet(identity, now)
	if err != nil {
		t.Fatal(err)
	}
	return ks
}

func TestCertRoundTrip(t *testing.T) {
	_, signer, _ := ed25519.GenerateKey(rand.Reader)
	certified, _, _ := ed25519.GenerateKey(rand.Reader)
	now := time.Now()

	cert, err := NewCert(cell.CertTypeIdentitySign, KeyTypeEd25519, certified, now.Add(time.Hour), signer, true)
	if err != nil {
		t.Fatal(err)
	}

	data, err := cert.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseCert(data)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Expiration.Equal(cert.Expiration) || parsed.CertifiedKey != cert.CertifiedKey ||
		!reflect.DeepEqual(parsed.Extensions, cert.Extensions) || !bytes.Equal(parsed.Signature, cert.Signature) {
		t.Fatalf("parsed certificate differs: %v, %v", cert, parsed)
	}

	if err := parsed.Verify(signer.Public().(ed25519.PublicKey), now); err != nil {
		t.Fatal(err)
	}

	if embedded, ok := parsed.SignedWithKey(); !ok || !embedded.Equal(signer.Public()) {
		t.Fatalf("embedded signer missing")
	}
}

func TestCertVerifyFailures(t *testing.T) {
	_, signer, _ := ed25519.GenerateKey(rand.Reader)
	other, _, _ := ed25519.GenerateKey(rand.Reader)
	certified, _, _ := ed25519.GenerateKey(rand.Reader)
	now := time.Now()

	cert, _ := NewCert(cell.CertTypeSignAuth, KeyTypeEd25519, certified, now.Add(2*time.Hour), signer, false)

	if err := cert.Verify(other, now); err == nil {
		t.Fatalf("certificate verified with a wrong key")
	}
	if err := cert.Verify(signer.Public().(ed25519.PublicKey), now.Add(3*time.Hour)); err == nil {
		t.Fatalf("expired certificate verified")
	}

	cert.Signature[0] ^= 0xFF
	if err := cert.Verify(signer.Public().(ed25519.PublicKey), now); err == nil {
		t.Fatalf("tampered certificate verified")
	}
}

func TestParseCertTruncated(t *testing.T) {
	_, signer, _ := ed25519.GenerateKey(rand.Reader)
	certified, _, _ := ed25519.GenerateKey(rand.Reader)

	cert, _ := NewCert(cell.CertTypeIdentitySign, KeyTypeEd25519, certified, time.Now().Add(time.Hour), signer, true)
	data, _ := cert.Bytes()

	for _, l := range []int{0, 6, 39, 40, len(data) - 1} {
		if _, err := ParseCert(data[:l]); err == nil {
			t.Fatalf("truncated certificate of %d bytes was parsed", l)
		}
	}
}

func TestVerifyCertChain(t *testing.T) {
	now := time.Now()
	initiator := newTestKeySet(t, now)
	responder := newTestKeySet(t, now)

	respChain, err := initiator.VerifyCertChain(Responder, responder.LocalCerts(Responder), responder.LinkCertDigest(), now)
	if err != nil {
		t.Fatal(err)
	}
	if respChain.Digest != responder.Digest() || !respChain.Identity.Equal(responder.Identity()) {
		t.Fatalf("responder chain has wrong identity")
	}
	if respChain.AuthKey != nil {
		t.Fatalf("responder chain carries an authentication key")
	}

	initChain, err := responder.VerifyCertChain(Initiator, initiator.LocalCerts(Initiator), nil, now)
	if err != nil {
		t.Fatal(err)
	}
	if initChain.Digest != initiator.Digest() {
		t.Fatalf("initiator chain has wrong identity")
	}

	transcript := []byte("some transcript")
	sig, _ := initiator.Sign(transcript)
	if err := responder.VerifySignature(initChain, transcript, sig); err != nil {
		t.Fatal(err)
	}
	if err := responder.VerifySignature(initChain, []byte("another transcript"), sig); !linkerr.Is(err, linkerr.CryptoFailure) {
		t.Fatalf("expected crypto failure, got %v", err)
	}
	if err := responder.VerifySignature(respChain, transcript, sig); !linkerr.Is(err, linkerr.CryptoFailure) {
		t.Fatalf("expected crypto failure without auth key, got %v", err)
	}
}

func TestVerifyCertChainFailures(t *testing.T) {
	now := time.Now()
	local := newTestKeySet(t, now)
	peer := newTestKeySet(t, now)
	stranger := newTestKeySet(t, now)

	mixed := []cell.CertEntry{
		peer.LocalCerts(Responder)[0],
		stranger.LocalCerts(Responder)[1],
	}

	duplicate := append(peer.LocalCerts(Responder), peer.LocalCerts(Responder)[1])

	// Correctly signed certificates of the wrong type in the auth and in the identity slot.
	wrongLeaf, err := NewCert(cell.CertTypeIdentitySign, KeyTypeEd25519, peer.auth.Public().(ed25519.PublicKey),
		now.Add(time.Hour), peer.signing, false)
	if err != nil {
		t.Fatal(err)
	}
	wrongLeafBody, err := wrongLeaf.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	wrongID, err := NewCert(cell.CertTypeSignAuth, KeyTypeEd25519, peer.signing.Public().(ed25519.PublicKey),
		now.Add(time.Hour), peer.identity, true)
	if err != nil {
		t.Fatal(err)
	}
	wrongIDBody, err := wrongID.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		role   Role
		certs  []cell.CertEntry
		digest []byte
		now    time.Time
	}{
		{"missing leaf", Responder, peer.LocalCerts(Responder)[:1], nil, now},
		{"wrong role", Responder, peer.LocalCerts(Initiator), nil, now},
		{"wrong link cert", Responder, peer.LocalCerts(Responder), stranger.LinkCertDigest(), now},
		{"foreign leaf", Responder, mixed, nil, now},
		{"expired", Initiator, peer.LocalCerts(Initiator), nil, now.Add(LinkKeyLifetime + 2*time.Hour)},
		{"duplicate type", Responder, duplicate, nil, now},
		{"wrong leaf type", Initiator, []cell.CertEntry{
			{Type: cell.CertTypeIdentitySign, Body: peer.identitySignCert},
			{Type: cell.CertTypeSignAuth, Body: wrongLeafBody},
		}, nil, now},
		{"wrong identity type", Initiator, []cell.CertEntry{
			{Type: cell.CertTypeIdentitySign, Body: wrongIDBody},
			{Type: cell.CertTypeSignAuth, Body: peer.signAuthCert},
		}, nil, now},
		{"garbage", Initiator, []cell.CertEntry{{Type: cell.CertTypeIdentitySign, Body: []byte{1, 2}}, {Type: cell.CertTypeSignAuth}}, nil, now},
	}

	for _, test := range tests {
		if _, err := local.VerifyCertChain(test.role, test.certs, test.digest, test.now); !linkerr.Is(err, linkerr.CryptoFailure) {
			t.Fatalf("%s: expected crypto failure, got %v", test.name, err)
		}
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity")

	created, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created.Equal(loaded) {
		t.Fatalf("loaded identity differs from the created one")
	}

	if err := os.WriteFile(path, []byte("nope"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(path); err == nil {
		t.Fatalf("invalid identity file was accepted")
	}
}

func TestDigest(t *testing.T) {
	ks := newTestKeySet(t, time.Now())
	d := ks.Digest()

	parsed, err := ParseDigest(d.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != d || parsed.IsZero() {
		t.Fatalf("parsed digest differs: %v, %v", d, parsed)
	}
	if len(d.Short()) != 12 {
		t.Fatalf("unexpected short digest %q", d.Short())
	}

	if _, err := ParseDigest("abcd"); err == nil {
		t.Fatalf("short digest was parsed")
	}
}
