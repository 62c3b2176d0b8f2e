// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package linkcrypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Key types of a certified key.
const (
	KeyTypeEd25519    uint8 = 0x01
	KeyTypeSHA256RSA  uint8 = 0x02
	KeyTypeSHA256X509 uint8 = 0x03
)

const (
	certVersion = 0x01

	extSignedWithKey         uint8 = 0x04
	extFlagAffectsValidation uint8 = 0x01
)

// Extension of a Cert.
type Extension struct {
	Type  uint8
	Flags uint8
	Data  []byte
}

// Cert is an Ed25519 certificate as exchanged in CERTS cells. It certifies some key, CertifiedKey, until the
// Expiration by a signature of another Ed25519 key.
type Cert struct {
	CertType     uint8
	Expiration   time.Time
	KeyType      uint8
	CertifiedKey [32]byte
	Extensions   []Extension
	Signature    []byte
}

// NewCert creates and signs a Cert. If includeSigner is set, the signer's public key is embedded as an extension,
// which is required for certificates signed by an identity key.
func NewCert(certType, keyType uint8, certified []byte, expiration time.Time, signer ed25519.PrivateKey, includeSigner bool) (c *Cert, err error) {
	if len(certified) != 32 {
		err = fmt.Errorf("certified key has %d bytes instead of 32", len(certified))
		return
	}

	c = &Cert{
		CertType:   certType,
		Expiration: expiration.Truncate(time.Hour),
		KeyType:    keyType,
	}
	copy(c.CertifiedKey[:], certified)

	if includeSigner {
		c.Extensions = append(c.Extensions, Extension{
			Type:  extSignedWithKey,
			Flags: extFlagAffectsValidation,
			Data:  append([]byte(nil), signer.Public().(ed25519.PublicKey)...),
		})
	}

	signed, signedErr := c.signedPart()
	if signedErr != nil {
		err = signedErr
		return
	}
	c.Signature = ed25519.Sign(signer, signed)
	return
}

func (c *Cert) signedPart() ([]byte, error) {
	var buf bytes.Buffer

	hours := c.Expiration.Unix() / 3600
	if hours < 0 || hours > 0xFFFFFFFF {
		return nil, fmt.Errorf("expiration %v is not representable", c.Expiration)
	}

	var exp [4]byte
	binary.BigEndian.PutUint32(exp[:], uint32(hours))

	buf.WriteByte(certVersion)
	buf.WriteByte(c.CertType)
	buf.Write(exp[:])
	buf.WriteByte(c.KeyType)
	buf.Write(c.CertifiedKey[:])

	if len(c.Extensions) > 0xFF {
		return nil, fmt.Errorf("too many extensions: %d", len(c.Extensions))
	}
	buf.WriteByte(uint8(len(c.Extensions)))

	for _, ext := range c.Extensions {
		var extLen [2]byte
		binary.BigEndian.PutUint16(extLen[:], uint16(len(ext.Data)))

		buf.Write(extLen[:])
		buf.WriteByte(ext.Type)
		buf.WriteByte(ext.Flags)
		buf.Write(ext.Data)
	}

	return buf.Bytes(), nil
}

// Bytes serializes this Cert.
func (c *Cert) Bytes() ([]byte, error) {
	signed, err := c.signedPart()
	if err != nil {
		return nil, err
	}
	return append(signed, c.Signature...), nil
}

// ParseCert reads a Cert. Its signature is not checked.
func ParseCert(data []byte) (c *Cert, err error) {
	r := bytes.NewReader(data)
	c = new(Cert)

	var hdr [7]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("certificate header: %w", err)
	}
	if hdr[0] != certVersion {
		return nil, fmt.Errorf("unsupported certificate version %d", hdr[0])
	}

	c.CertType = hdr[1]
	c.Expiration = time.Unix(int64(binary.BigEndian.Uint32(hdr[2:6]))*3600, 0)
	c.KeyType = hdr[6]

	if _, err = io.ReadFull(r, c.CertifiedKey[:]); err != nil {
		return nil, fmt.Errorf("certified key: %w", err)
	}

	n, nErr := r.ReadByte()
	if nErr != nil {
		return nil, fmt.Errorf("extension count: %w", nErr)
	}

	for i := uint8(0); i < n; i++ {
		var extHdr [4]byte
		if _, err = io.ReadFull(r, extHdr[:]); err != nil {
			return nil, fmt.Errorf("extension %d header: %w", i, err)
		}

		ext := Extension{
			Type:  extHdr[2],
			Flags: extHdr[3],
			Data:  make([]byte, binary.BigEndian.Uint16(extHdr[:2])),
		}
		if _, err = io.ReadFull(r, ext.Data); err != nil {
			return nil, fmt.Errorf("extension %d data: %w", i, err)
		}
		c.Extensions = append(c.Extensions, ext)
	}

	if r.Len() != ed25519.SignatureSize {
		return nil, fmt.Errorf("certificate signature has %d bytes instead of %d", r.Len(), ed25519.SignatureSize)
	}
	c.Signature = make([]byte, ed25519.SignatureSize)
	_, _ = io.ReadFull(r, c.Signature)

	return c, nil
}

// SignedWithKey returns the public key embedded by the signed-with-ed25519-key extension, if present.
func (c *Cert) SignedWithKey() (ed25519.PublicKey, bool) {
	for _, ext := range c.Extensions {
		if ext.Type == extSignedWithKey && len(ext.Data) == ed25519.PublicKeySize {
			return ed25519.PublicKey(ext.Data), true
		}
	}
	return nil, false
}

// Verify the signature of this Cert by signer and its validity at the given time.
func (c *Cert) Verify(signer ed25519.PublicKey, now time.Time) error {
	for _, ext := range c.Extensions {
		if ext.Type != extSignedWithKey && ext.Flags&extFlagAffectsValidation != 0 {
			return fmt.Errorf("unknown extension %d affects validation", ext.Type)
		}
	}

	if embedded, ok := c.SignedWithKey(); ok && !embedded.Equal(signer) {
		return errors.New("embedded signing key differs from the expected signer")
	}

	signed, err := c.signedPart()
	if err != nil {
		return err
	}
	if len(signer) != ed25519.PublicKeySize || !ed25519.Verify(signer, signed, c.Signature) {
		return fmt.Errorf("invalid signature on certificate of type %d", c.CertType)
	}

	if now.After(c.Expiration) {
		return fmt.Errorf("certificate of type %d expired at %v", c.CertType, c.Expiration)
	}
	return nil
}
