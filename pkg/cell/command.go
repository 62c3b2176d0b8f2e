// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cell

import "fmt"

// Command is the one byte command field of a cell.
type Command uint8

// Command values of the Tor link protocol.
const (
	PADDING           Command = 0
	CREATE            Command = 1
	CREATED           Command = 2
	RELAY             Command = 3
	DESTROY           Command = 4
	CREATE_FAST       Command = 5
	CREATED_FAST      Command = 6
	VERSIONS          Command = 7
	NETINFO           Command = 8
	RELAY_EARLY       Command = 9
	CREATE2           Command = 10
	CREATED2          Command = 11
	PADDING_NEGOTIATE Command = 12

	VPADDING       Command = 128
	CERTS          Command = 129
	AUTH_CHALLENGE Command = 130
	AUTHENTICATE   Command = 131
)

// varCommandThreshold is the first command number framed as a variable cell on link versions >= 3.
const varCommandThreshold Command = 128

var commandNames = map[Command]string{
	PADDING:           "PADDING",
	CREATE:            "CREATE",
	CREATED:           "CREATED",
	RELAY:             "RELAY",
	DESTROY:           "DESTROY",
	CREATE_FAST:       "CREATE_FAST",
	CREATED_FAST:      "CREATED_FAST",
	VERSIONS:          "VERSIONS",
	NETINFO:           "NETINFO",
	RELAY_EARLY:       "RELAY_EARLY",
	CREATE2:           "CREATE2",
	CREATED2:          "CREATED2",
	PADDING_NEGOTIATE: "PADDING_NEGOTIATE",
	VPADDING:          "VPADDING",
	CERTS:             "CERTS",
	AUTH_CHALLENGE:    "AUTH_CHALLENGE",
	AUTHENTICATE:      "AUTHENTICATE",
}

func (cmd Command) String() string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(cmd))
}

// IsKnown reports if this Command is part of the implemented link protocol.
func (cmd Command) IsKnown() bool {
	_, ok := commandNames[cmd]
	return ok
}

// IsLinkManagement reports if this Command belongs to the link handshake and link maintenance.
func (cmd Command) IsLinkManagement() bool {
	switch cmd {
	case PADDING, VERSIONS, NETINFO, PADDING_NEGOTIATE, VPADDING, CERTS, AUTH_CHALLENGE, AUTHENTICATE:
		return true
	default:
		return false
	}
}

// IsCircuitBearing reports if this Command carries circuit layer data and is handed to the circuit layer.
func (cmd Command) IsCircuitBearing() bool {
	switch cmd {
	case CREATE, CREATED, RELAY, DESTROY, CREATE_FAST, CREATED_FAST, RELAY_EARLY, CREATE2, CREATED2:
		return true
	default:
		return false
	}
}

// IsVariableLength reports if a cell with this Command is framed as a variable cell on a link of the given version.
//
// A zero linkVersion means that no version was negotiated yet. Version 2 links know only VERSIONS as a variable cell,
// every later version additionally frames all commands from 128 upwards as variable cells.
func IsVariableLength(cmd Command, linkVersion uint16) bool {
	switch linkVersion {
	case 1:
		return false
	case 2:
		return cmd == VERSIONS
	default:
		return cmd == VERSIONS || cmd >= varCommandThreshold
	}
}
