// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cell

import (
	"encoding/binary"
	"fmt"
)

// NewVersions creates a VERSIONS cell listing the given link protocol versions.
func NewVersions(versions []uint16) (Cell, error) {
	payload := make([]byte, 2*len(versions))
	for i, v := range versions {
		binary.BigEndian.PutUint16(payload[2*i:], v)
	}
	return NewVariable(0, VERSIONS, payload)
}

// ParseVersions reads the link protocol versions of a VERSIONS cell.
func ParseVersions(c Cell) (versions []uint16, err error) {
	if c.Command != VERSIONS {
		err = fmt.Errorf("expected VERSIONS, got %v", c.Command)
		return
	}
	if len(c.Payload)%2 != 0 {
		err = fmt.Errorf("VERSIONS payload has odd length %d", len(c.Payload))
		return
	}

	versions = make([]uint16, len(c.Payload)/2)
	for i := range versions {
		versions[i] = binary.BigEndian.Uint16(c.Payload[2*i:])
	}
	return
}

// NegotiateVersion returns the highest version present in both lists. The boolean is false for disjoint lists.
func NegotiateVersion(local, peer []uint16) (version uint16, ok bool) {
	for _, l := range local {
		for _, p := range peer {
			if l == p && l > version {
				version = l
				ok = true
			}
		}
	}
	return
}
