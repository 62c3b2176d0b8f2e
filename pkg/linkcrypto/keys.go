// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package linkcrypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/cell"
)

const (
	// SigningKeyLifetime is the validity of the identity-signed signing key certificate.
	SigningKeyLifetime = 30 * 24 * time.Hour

	// LinkKeyLifetime is the validity of the TLS link and authentication key certificates.
	LinkKeyLifetime = 2 * 24 * time.Hour
)

// KeySet holds a relay's keys: the long-term Ed25519 identity key, a medium-term signing key certified by the
// identity, an authentication key and a TLS link certificate, both certified by the signing key.
type KeySet struct {
	identity ed25519.PrivateKey
	signing  ed25519.PrivateKey
	auth     ed25519.PrivateKey

	tlsCert        tls.Certificate
	linkCertDigest [32]byte

	identitySignCert []byte
	signLinkCert     []byte
	signAuthCert     []byte
}

// NewKeySet creates fresh medium-term keys and certificates for an identity key.
func NewKeySet(identity ed25519.PrivateKey, now time.Time) (ks *KeySet, err error) {
	if len(identity) != ed25519.PrivateKeySize {
		err = fmt.Errorf("identity key has %d bytes instead of %d", len(identity), ed25519.PrivateKeySize)
		return
	}

	ks = &KeySet{identity: identity}

	if _, ks.signing, err = ed25519.GenerateKey(rand.Reader); err != nil {
		return nil, err
	}
	if _, ks.auth, err = ed25519.GenerateKey(rand.Reader); err != nil {
		return nil, err
	}

	if ks.tlsCert, err = newTLSCertificate(now); err != nil {
		return nil, err
	}
	ks.linkCertDigest = sha256.Sum256(ks.tlsCert.Certificate[0])

	certs := []struct {
		target        *[]byte
		certType      uint8
		keyType       uint8
		certified     []byte
		lifetime      time.Duration
		signer        ed25519.PrivateKey
		includeSigner bool
	}{
		{&ks.identitySignCert, cell.CertTypeIdentitySign, KeyTypeEd25519,
			ks.signing.Public().(ed25519.PublicKey), SigningKeyLifetime, ks.identity, true},
		{&ks.signLinkCert, cell.CertTypeSignLink, KeyTypeSHA256X509,
			ks.linkCertDigest[:], LinkKeyLifetime, ks.signing, false},
		{&ks.signAuthCert, cell.CertTypeSignAuth, KeyTypeEd25519,
			ks.auth.Public().(ed25519.PublicKey), LinkKeyLifetime, ks.signing, false},
	}

	for _, c := range certs {
		cert, certErr := NewCert(c.certType, c.keyType, c.certified, now.Add(c.lifetime), c.signer, c.includeSigner)
		if certErr != nil {
			return nil, certErr
		}
		if *c.target, err = cert.Bytes(); err != nil {
			return nil, err
		}
	}

	return
}

// newTLSCertificate creates a self-signed TLS certificate with a random name. Link authenticity is established by
// the CERTS cell, not by the TLS certificate's issuer.
func newTLSCertificate(now time.Time) (cert tls.Certificate, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return
	}

	nameBytes := make([]byte, 8)
	if _, err = rand.Read(nameBytes); err != nil {
		return
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "www." + hex.EncodeToString(nameBytes) + ".net"},
		NotBefore:    now.Add(-24 * time.Hour),
		NotAfter:     now.Add(LinkKeyLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return
	}

	cert = tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
	return
}

// Identity returns the public identity key.
func (ks *KeySet) Identity() ed25519.PublicKey {
	return ks.identity.Public().(ed25519.PublicKey)
}

// Digest of the identity key.
func (ks *KeySet) Digest() Digest {
	return IdentityDigest(ks.Identity())
}

// TLSCertificate to be presented by TLS based transports.
func (ks *KeySet) TLSCertificate() tls.Certificate {
	return ks.tlsCert
}

// LinkCertDigest is the SHA-256 digest of the TLS certificate's DER encoding.
func (ks *KeySet) LinkCertDigest() []byte {
	return append([]byte(nil), ks.linkCertDigest[:]...)
}

// LoadOrCreateIdentity reads a hex encoded Ed25519 seed from a file. A new identity is generated and stored if the
// file does not exist yet.
func LoadOrCreateIdentity(path string) (identity ed25519.PrivateKey, err error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fmt.Errorf("identity key file %s: %w", path, decErr)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("identity key file %s has a seed of %d bytes", path, len(seed))
		}
		return ed25519.NewKeyFromSeed(seed), nil

	case errors.Is(err, os.ErrNotExist):
		if _, identity, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return
		}

		if err = os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return
		}
		if err = os.WriteFile(path, []byte(hex.EncodeToString(identity.Seed())+"\n"), 0600); err != nil {
			return
		}

		log.WithFields(log.Fields{
			"file":     path,
			"identity": IdentityDigest(identity.Public().(ed25519.PublicKey)).Short(),
		}).Info("Created new identity key")
		return

	default:
		return
	}
}
