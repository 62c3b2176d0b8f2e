// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cell implements the framing of Tor link protocol cells and the payloads of the link handshake cells.
//
// Cells come in two shapes. A fixed cell consists of a circuit ID, a command and a payload of PayloadLen bytes. A
// variable cell has an additional two byte length field and a payload of this length. Which shape a cell has depends
// on its command and the negotiated link protocol version, see IsVariableLength.
package cell

import (
	"bytes"
	"fmt"
)

const (
	// PayloadLen is the payload size of every fixed cell.
	PayloadLen = 509

	// MaxVariablePayloadLen is the largest payload expressible by a variable cell's length field.
	MaxVariablePayloadLen = 0xFFFF
)

// Cell is a link layer protocol unit. A Cell must not be altered after being constructed.
type Cell struct {
	CircID  uint32
	Command Command
	Payload []byte
}

// NewFixed creates a fixed Cell. The payload is zero-padded to PayloadLen bytes.
func NewFixed(circID uint32, cmd Command, payload []byte) (c Cell, err error) {
	if len(payload) > PayloadLen {
		err = fmt.Errorf("fixed cell payload of %d bytes exceeds %d bytes", len(payload), PayloadLen)
		return
	}

	c = Cell{
		CircID:  circID,
		Command: cmd,
		Payload: make([]byte, PayloadLen),
	}
	copy(c.Payload, payload)
	return
}

// MustNewFixed is like NewFixed, but panics on an oversized payload.
func MustNewFixed(circID uint32, cmd Command, payload []byte) Cell {
	c, err := NewFixed(circID, cmd, payload)
	if err != nil {
		panic(err)
	}
	return c
}

// NewVariable creates a variable Cell.
func NewVariable(circID uint32, cmd Command, payload []byte) (c Cell, err error) {
	if len(payload) > MaxVariablePayloadLen {
		err = fmt.Errorf("variable cell payload of %d bytes exceeds %d bytes", len(payload), MaxVariablePayloadLen)
		return
	}

	c = Cell{
		CircID:  circID,
		Command: cmd,
		Payload: append([]byte(nil), payload...),
	}
	return
}

// Equal checks if two Cells are identical.
func (c Cell) Equal(o Cell) bool {
	return c.CircID == o.CircID && c.Command == o.Command && bytes.Equal(c.Payload, o.Payload)
}

func (c Cell) String() string {
	return fmt.Sprintf("%v(circ=%d, len=%d)", c.Command, c.CircID, len(c.Payload))
}
