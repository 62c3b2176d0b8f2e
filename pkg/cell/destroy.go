// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cell

// DestroyReason is the one byte reason of a DESTROY cell.
type DestroyReason uint8

// A subset of DESTROY reasons.
const (
	DestroyNone          DestroyReason = 0
	DestroyProtocol      DestroyReason = 1
	DestroyInternal      DestroyReason = 2
	DestroyResourceLimit DestroyReason = 5
	DestroyConnectFailed DestroyReason = 6
	DestroyFinished      DestroyReason = 9
)

// NewDestroy creates a DESTROY cell for a circuit.
func NewDestroy(circID uint32, reason DestroyReason) Cell {
	return MustNewFixed(circID, DESTROY, []byte{byte(reason)})
}
