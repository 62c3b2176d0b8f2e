// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package linkcrypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Digest identifies a peer by the SHA-256 digest of its Ed25519 identity key.
type Digest [32]byte

// IdentityDigest of an Ed25519 identity key.
func IdentityDigest(identity ed25519.PublicKey) Digest {
	return sha256.Sum256(identity)
}

// ParseDigest from its hexadecimal representation.
func ParseDigest(s string) (d Digest, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return
	}
	if len(b) != len(d) {
		err = fmt.Errorf("digest has %d bytes instead of %d", len(b), len(d))
		return
	}
	copy(d[:], b)
	return
}

// IsZero reports an unset Digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns an abbreviated form for logging.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:6])
}
