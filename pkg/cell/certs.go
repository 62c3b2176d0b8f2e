// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cell

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Certificate types carried in a CERTS cell.
const (
	CertTypeRSALink      uint8 = 1
	CertTypeRSAIdentity  uint8 = 2
	CertTypeRSAAuth      uint8 = 3
	CertTypeIdentitySign uint8 = 4
	CertTypeSignLink     uint8 = 5
	CertTypeSignAuth     uint8 = 6
	CertTypeRSACrossCert uint8 = 7
)

// CertEntry is one certificate of a CERTS cell. The Body is opaque to this package.
type CertEntry struct {
	Type uint8
	Body []byte
}

// NewCerts creates a CERTS cell of the given certificates.
func NewCerts(certs []CertEntry) (c Cell, err error) {
	if len(certs) > 0xFF {
		err = fmt.Errorf("too many certificates: %d", len(certs))
		return
	}

	var buf bytes.Buffer
	buf.WriteByte(uint8(len(certs)))

	for _, cert := range certs {
		if len(cert.Body) > 0xFFFF {
			err = fmt.Errorf("certificate of type %d is too long: %d bytes", cert.Type, len(cert.Body))
			return
		}

		var clen [2]byte
		binary.BigEndian.PutUint16(clen[:], uint16(len(cert.Body)))

		buf.WriteByte(cert.Type)
		buf.Write(clen[:])
		buf.Write(cert.Body)
	}

	return NewVariable(0, CERTS, buf.Bytes())
}

// ParseCerts reads the certificates of a CERTS cell. Duplicate certificate types are rejected.
func ParseCerts(c Cell) (certs []CertEntry, err error) {
	if c.Command != CERTS {
		err = fmt.Errorf("expected CERTS, got %v", c.Command)
		return
	}

	r := bytes.NewReader(c.Payload)

	n, nErr := r.ReadByte()
	if nErr != nil {
		err = fmt.Errorf("CERTS count: %w", nErr)
		return
	}

	seen := make(map[uint8]bool)
	for i := uint8(0); i < n; i++ {
		var hdr [3]byte
		if _, err = io.ReadFull(r, hdr[:]); err != nil {
			err = fmt.Errorf("CERTS entry %d header: %w", i, err)
			return
		}

		body := make([]byte, binary.BigEndian.Uint16(hdr[1:]))
		if _, err = io.ReadFull(r, body); err != nil {
			err = fmt.Errorf("CERTS entry %d body: %w", i, err)
			return
		}

		if seen[hdr[0]] {
			err = fmt.Errorf("CERTS contains certificate type %d twice", hdr[0])
			return
		}
		seen[hdr[0]] = true

		certs = append(certs, CertEntry{Type: hdr[0], Body: body})
	}

	if r.Len() != 0 {
		err = fmt.Errorf("CERTS has %d trailing bytes", r.Len())
	}
	return
}
