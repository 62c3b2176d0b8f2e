// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package linkcrypto

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

// Role of a link endpoint within the handshake.
type Role uint8

const (
	// Initiator opened the connection.
	Initiator Role = iota

	// Responder accepted the connection.
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// PeerChain is the verified result of a peer's CERTS cell.
type PeerChain struct {
	Identity   ed25519.PublicKey
	Digest     Digest
	SigningKey ed25519.PublicKey

	// AuthKey is only present in an initiator's chain.
	AuthKey ed25519.PublicKey

	// Expires is the earliest expiration of all certificates in the chain.
	Expires time.Time
}

// Suite bundles the cryptographic operations required by the link handshake. Every failure is reported as a
// linkerr.CryptoFailure.
type Suite interface {
	// Identity is the local Ed25519 identity key.
	Identity() ed25519.PublicKey

	// LocalCerts to be sent in a CERTS cell when acting in the given role.
	LocalCerts(role Role) []cell.CertEntry

	// VerifyCertChain of a peer acting in peerRole. A responder's chain must certify the TLS certificate whose
	// digest is peerLinkCertDigest; a nil digest skips this binding for transports without certificates.
	VerifyCertChain(peerRole Role, certs []cell.CertEntry, peerLinkCertDigest []byte, now time.Time) (*PeerChain, error)

	// Sign a handshake transcript with the local authentication key.
	Sign(transcript []byte) ([]byte, error)

	// VerifySignature of a transcript by the authentication key of a verified initiator chain.
	VerifySignature(chain *PeerChain, transcript, sig []byte) error
}

var _ Suite = (*KeySet)(nil)

// LocalCerts returns the identity->signing certificate together with the signing->link certificate for a
// responder or the signing->authenticate certificate for an initiator.
func (ks *KeySet) LocalCerts(role Role) []cell.CertEntry {
	certs := []cell.CertEntry{{Type: cell.CertTypeIdentitySign, Body: ks.identitySignCert}}
	if role == Responder {
		certs = append(certs, cell.CertEntry{Type: cell.CertTypeSignLink, Body: ks.signLinkCert})
	} else {
		certs = append(certs, cell.CertEntry{Type: cell.CertTypeSignAuth, Body: ks.signAuthCert})
	}
	return certs
}

// VerifyCertChain implements Suite.
func (ks *KeySet) VerifyCertChain(peerRole Role, certs []cell.CertEntry, peerLinkCertDigest []byte, now time.Time) (chain *PeerChain, err error) {
	leafType := cell.CertTypeSignAuth
	if peerRole == Responder {
		leafType = cell.CertTypeSignLink
	}

	var errs *multierror.Error

	bodies := make(map[uint8][]byte)
	for _, c := range certs {
		if _, dup := bodies[c.Type]; dup {
			errs = multierror.Append(errs, fmt.Errorf("duplicate certificate of type %d", c.Type))
			continue
		}
		bodies[c.Type] = c.Body
	}

	for _, certType := range []uint8{cell.CertTypeIdentitySign, leafType} {
		if _, ok := bodies[certType]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("missing certificate of type %d", certType))
		}
	}
	if errs.ErrorOrNil() != nil {
		return nil, linkerr.Wrap(linkerr.CryptoFailure, errs, fmt.Sprintf("%v certificate chain", peerRole))
	}

	idCert, idErr := ParseCert(bodies[cell.CertTypeIdentitySign])
	leafCert, leafErr := ParseCert(bodies[leafType])
	errs = multierror.Append(errs, idErr, leafErr)
	if errs.ErrorOrNil() != nil {
		return nil, linkerr.Wrap(linkerr.CryptoFailure, errs, fmt.Sprintf("%v certificate chain", peerRole))
	}

	if idCert.CertType != cell.CertTypeIdentitySign {
		errs = multierror.Append(errs, fmt.Errorf("identity slot holds a certificate of type %d", idCert.CertType))
	}
	if leafCert.CertType != leafType {
		errs = multierror.Append(errs, fmt.Errorf("slot of type %d holds a certificate of type %d", leafType, leafCert.CertType))
	}

	chain = &PeerChain{}

	if identity, ok := idCert.SignedWithKey(); !ok {
		errs = multierror.Append(errs, fmt.Errorf("identity certificate lacks its signing key"))
	} else {
		chain.Identity = identity
		chain.Digest = IdentityDigest(identity)

		if verifyErr := idCert.Verify(identity, now); verifyErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("identity certificate: %w", verifyErr))
		}
	}

	if idCert.KeyType != KeyTypeEd25519 {
		errs = multierror.Append(errs, fmt.Errorf("identity certificate certifies key type %d", idCert.KeyType))
	}
	chain.SigningKey = append(ed25519.PublicKey(nil), idCert.CertifiedKey[:]...)

	if verifyErr := leafCert.Verify(chain.SigningKey, now); verifyErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("certificate of type %d: %w", leafType, verifyErr))
	}

	switch peerRole {
	case Responder:
		if leafCert.KeyType != KeyTypeSHA256X509 {
			errs = multierror.Append(errs, fmt.Errorf("link certificate certifies key type %d", leafCert.KeyType))
		}
		if peerLinkCertDigest != nil && !bytes.Equal(peerLinkCertDigest, leafCert.CertifiedKey[:]) {
			errs = multierror.Append(errs, fmt.Errorf("link certificate does not match the TLS certificate"))
		}

	case Initiator:
		if leafCert.KeyType != KeyTypeEd25519 {
			errs = multierror.Append(errs, fmt.Errorf("authentication certificate certifies key type %d", leafCert.KeyType))
		}
		chain.AuthKey = append(ed25519.PublicKey(nil), leafCert.CertifiedKey[:]...)
	}

	chain.Expires = idCert.Expiration
	if leafCert.Expiration.Before(chain.Expires) {
		chain.Expires = leafCert.Expiration
	}

	if errs.ErrorOrNil() != nil {
		return nil, linkerr.Wrap(linkerr.CryptoFailure, errs, fmt.Sprintf("%v certificate chain", peerRole))
	}
	return chain, nil
}

// Sign implements Suite.
func (ks *KeySet) Sign(transcript []byte) ([]byte, error) {
	return ed25519.Sign(ks.auth, transcript), nil
}

// VerifySignature implements Suite.
func (ks *KeySet) VerifySignature(chain *PeerChain, transcript, sig []byte) error {
	if chain == nil || len(chain.AuthKey) != ed25519.PublicKeySize {
		return linkerr.New(linkerr.CryptoFailure, "peer chain has no authentication key")
	}
	if !ed25519.Verify(chain.AuthKey, transcript, sig) {
		return linkerr.New(linkerr.CryptoFailure, "invalid AUTHENTICATE signature")
	}
	return nil
}
