// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cell

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNeedMoreData signals an incomplete cell. This is not a failure; the caller should retry after more bytes arrived.
var ErrNeedMoreData = errors.New("need more data")

// ErrMalformed is returned for bytes which cannot be framed as the requested kind of cell.
var ErrMalformed = errors.New("malformed cell")

// CircIDLen returns the length of the circuit ID field in bytes for a link protocol version.
func CircIDLen(linkVersion uint16) int {
	if linkVersion >= 4 {
		return 4
	}
	return 2
}

// FixedLen returns the wire size of a fixed cell for a circuit ID length.
func FixedLen(circIDLen int) int {
	return circIDLen + 1 + PayloadLen
}

func readCircID(data []byte, circIDLen int) uint32 {
	if circIDLen == 4 {
		return binary.BigEndian.Uint32(data)
	}
	return uint32(binary.BigEndian.Uint16(data))
}

func checkCircIDLen(circIDLen int) error {
	if circIDLen != 2 && circIDLen != 4 {
		return fmt.Errorf("invalid circuit ID length %d", circIDLen)
	}
	return nil
}

// DecodeFixed parses a fixed cell from the beginning of data and returns the amount of consumed bytes.
//
// ErrNeedMoreData is returned if data is shorter than a fixed cell. ErrMalformed is returned if the command would
// require a variable framing on a link of the given version.
func DecodeFixed(data []byte, circIDLen int, linkVersion uint16) (c Cell, n int, err error) {
	if err = checkCircIDLen(circIDLen); err != nil {
		return
	}

	if len(data) < circIDLen+1 {
		err = ErrNeedMoreData
		return
	}

	cmd := Command(data[circIDLen])
	if IsVariableLength(cmd, linkVersion) {
		err = fmt.Errorf("%w: command %v is not a fixed cell", ErrMalformed, cmd)
		return
	}

	n = FixedLen(circIDLen)
	if len(data) < n {
		n = 0
		err = ErrNeedMoreData
		return
	}

	c = Cell{
		CircID:  readCircID(data, circIDLen),
		Command: cmd,
		Payload: append([]byte(nil), data[circIDLen+1:n]...),
	}
	return
}

// DecodeVariable parses a variable cell from the beginning of data and returns the amount of consumed bytes.
//
// ErrNeedMoreData is returned until the whole payload announced by the length field is available.
func DecodeVariable(data []byte, circIDLen int) (c Cell, n int, err error) {
	if err = checkCircIDLen(circIDLen); err != nil {
		return
	}

	headerLen := circIDLen + 1 + 2
	if len(data) < headerLen {
		err = ErrNeedMoreData
		return
	}

	payloadLen := int(binary.BigEndian.Uint16(data[circIDLen+1:]))
	n = headerLen + payloadLen
	if len(data) < n {
		n = 0
		err = ErrNeedMoreData
		return
	}

	c = Cell{
		CircID:  readCircID(data, circIDLen),
		Command: Command(data[circIDLen]),
		Payload: append([]byte(nil), data[headerLen:n]...),
	}
	return
}

// Decode parses the next cell from data, choosing the framing by the command byte and the link protocol version.
func Decode(data []byte, linkVersion uint16) (c Cell, n int, err error) {
	circIDLen := CircIDLen(linkVersion)
	if len(data) < circIDLen+1 {
		err = ErrNeedMoreData
		return
	}

	if IsVariableLength(Command(data[circIDLen]), linkVersion) {
		return DecodeVariable(data, circIDLen)
	}
	return DecodeFixed(data, circIDLen, linkVersion)
}

// Encode serializes a Cell for a link of the given version. Fixed cells are zero-padded to PayloadLen bytes.
func Encode(c Cell, linkVersion uint16) (data []byte, err error) {
	circIDLen := CircIDLen(linkVersion)
	if circIDLen == 2 && c.CircID > 0xFFFF {
		err = fmt.Errorf("circuit ID %d does not fit into two bytes", c.CircID)
		return
	}

	variable := IsVariableLength(c.Command, linkVersion)

	var headerLen int
	if variable {
		if len(c.Payload) > MaxVariablePayloadLen {
			err = fmt.Errorf("variable cell payload of %d bytes exceeds %d bytes", len(c.Payload), MaxVariablePayloadLen)
			return
		}
		headerLen = circIDLen + 3
		data = make([]byte, headerLen+len(c.Payload))
		binary.BigEndian.PutUint16(data[circIDLen+1:], uint16(len(c.Payload)))
	} else {
		if len(c.Payload) > PayloadLen {
			err = fmt.Errorf("fixed cell payload of %d bytes exceeds %d bytes", len(c.Payload), PayloadLen)
			return
		}
		headerLen = circIDLen + 1
		data = make([]byte, FixedLen(circIDLen))
	}

	if circIDLen == 4 {
		binary.BigEndian.PutUint32(data, c.CircID)
	} else {
		binary.BigEndian.PutUint16(data, uint16(c.CircID))
	}
	data[circIDLen] = byte(c.Command)
	copy(data[headerLen:], c.Payload)
	return
}
