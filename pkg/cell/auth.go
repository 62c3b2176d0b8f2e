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

// AuthMethodEd25519 is the Ed25519-SHA256-RFC5705 authentication method, the only one implemented.
const AuthMethodEd25519 uint16 = 3

// ChallengeLen is the length of an AUTH_CHALLENGE's challenge.
const ChallengeLen = 32

// AuthChallenge is the payload of an AUTH_CHALLENGE cell.
type AuthChallenge struct {
	Challenge [ChallengeLen]byte
	Methods   []uint16
}

// Supports checks if the AuthChallenge offers an authentication method.
func (ac AuthChallenge) Supports(method uint16) bool {
	for _, m := range ac.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Cell creates a variable AUTH_CHALLENGE cell.
func (ac AuthChallenge) Cell() (Cell, error) {
	payload := make([]byte, ChallengeLen+2+2*len(ac.Methods))
	copy(payload, ac.Challenge[:])
	binary.BigEndian.PutUint16(payload[ChallengeLen:], uint16(len(ac.Methods)))
	for i, m := range ac.Methods {
		binary.BigEndian.PutUint16(payload[ChallengeLen+2+2*i:], m)
	}
	return NewVariable(0, AUTH_CHALLENGE, payload)
}

// ParseAuthChallenge reads an AUTH_CHALLENGE cell.
func ParseAuthChallenge(c Cell) (ac AuthChallenge, err error) {
	if c.Command != AUTH_CHALLENGE {
		err = fmt.Errorf("expected AUTH_CHALLENGE, got %v", c.Command)
		return
	}
	if len(c.Payload) < ChallengeLen+2 {
		err = fmt.Errorf("AUTH_CHALLENGE payload too short: %d bytes", len(c.Payload))
		return
	}

	copy(ac.Challenge[:], c.Payload)
	n := int(binary.BigEndian.Uint16(c.Payload[ChallengeLen:]))
	if len(c.Payload) < ChallengeLen+2+2*n {
		err = fmt.Errorf("AUTH_CHALLENGE announces %d methods, payload has %d bytes", n, len(c.Payload))
		return
	}

	ac.Methods = make([]uint16, n)
	for i := range ac.Methods {
		ac.Methods[i] = binary.BigEndian.Uint16(c.Payload[ChallengeLen+2+2*i:])
	}
	return
}

// Authenticate is the payload of an AUTHENTICATE cell.
type Authenticate struct {
	AuthType uint16
	Body     []byte
}

// Cell creates a variable AUTHENTICATE cell.
func (a Authenticate) Cell() (c Cell, err error) {
	if len(a.Body) > 0xFFFF-4 {
		err = fmt.Errorf("AUTHENTICATE body too long: %d bytes", len(a.Body))
		return
	}

	payload := make([]byte, 4+len(a.Body))
	binary.BigEndian.PutUint16(payload, a.AuthType)
	binary.BigEndian.PutUint16(payload[2:], uint16(len(a.Body)))
	copy(payload[4:], a.Body)
	return NewVariable(0, AUTHENTICATE, payload)
}

// ParseAuthenticate reads an AUTHENTICATE cell.
func ParseAuthenticate(c Cell) (a Authenticate, err error) {
	if c.Command != AUTHENTICATE {
		err = fmt.Errorf("expected AUTHENTICATE, got %v", c.Command)
		return
	}
	if len(c.Payload) < 4 {
		err = fmt.Errorf("AUTHENTICATE payload too short: %d bytes", len(c.Payload))
		return
	}

	a.AuthType = binary.BigEndian.Uint16(c.Payload)
	n := int(binary.BigEndian.Uint16(c.Payload[2:]))
	if len(c.Payload) < 4+n {
		err = fmt.Errorf("AUTHENTICATE announces %d bytes, payload has %d bytes", n, len(c.Payload)-4)
		return
	}
	a.Body = append([]byte(nil), c.Payload[4:4+n]...)
	return
}

// Auth0003Type is the TYPE field of an Ed25519-SHA256-RFC5705 authentication body.
var Auth0003Type = [8]byte{'A', 'U', 'T', 'H', '0', '0', '0', '3'}

const (
	auth0003RandLen = 24
	auth0003SigLen  = 64

	// Auth0003SignedLen is the length of the signed part of an Auth0003 body.
	Auth0003SignedLen = 8 + 8*32 + auth0003RandLen
)

// Auth0003 is the body of an Ed25519-SHA256-RFC5705 AUTHENTICATE cell. Every field except Rand and Sig can be
// recomputed by the responder to check the initiator's claims.
type Auth0003 struct {
	CID        [32]byte
	SID        [32]byte
	CIDEd      [32]byte
	SIDEd      [32]byte
	SLog       [32]byte
	CLog       [32]byte
	SCert      [32]byte
	TLSSecrets [32]byte
	Rand       [auth0003RandLen]byte
	Sig        []byte
}

// Signed returns the part of the body covered by the signature.
func (a Auth0003) Signed() []byte {
	var buf bytes.Buffer
	buf.Grow(Auth0003SignedLen)

	buf.Write(Auth0003Type[:])
	for _, field := range [][32]byte{a.CID, a.SID, a.CIDEd, a.SIDEd, a.SLog, a.CLog, a.SCert, a.TLSSecrets} {
		buf.Write(field[:])
	}
	buf.Write(a.Rand[:])
	return buf.Bytes()
}

// Bytes returns the whole body, the signed part followed by the signature.
func (a Auth0003) Bytes() []byte {
	return append(a.Signed(), a.Sig...)
}

// SameClaims compares all fields which are recomputable by the responder.
func (a Auth0003) SameClaims(o Auth0003) bool {
	return a.CID == o.CID && a.SID == o.SID && a.CIDEd == o.CIDEd && a.SIDEd == o.SIDEd &&
		a.SLog == o.SLog && a.CLog == o.CLog && a.SCert == o.SCert && a.TLSSecrets == o.TLSSecrets
}

// ParseAuth0003 reads an Ed25519-SHA256-RFC5705 authentication body.
func ParseAuth0003(body []byte) (a Auth0003, err error) {
	if len(body) != Auth0003SignedLen+auth0003SigLen {
		err = fmt.Errorf("AUTH0003 body has %d bytes instead of %d", len(body), Auth0003SignedLen+auth0003SigLen)
		return
	}

	r := bytes.NewReader(body)

	var typ [8]byte
	_, _ = io.ReadFull(r, typ[:])
	if typ != Auth0003Type {
		err = fmt.Errorf("AUTH0003 body has type %q", typ[:])
		return
	}

	for _, field := range []*[32]byte{&a.CID, &a.SID, &a.CIDEd, &a.SIDEd, &a.SLog, &a.CLog, &a.SCert, &a.TLSSecrets} {
		_, _ = io.ReadFull(r, field[:])
	}
	_, _ = io.ReadFull(r, a.Rand[:])

	a.Sig = make([]byte, auth0003SigLen)
	_, _ = io.ReadFull(r, a.Sig)
	return
}
