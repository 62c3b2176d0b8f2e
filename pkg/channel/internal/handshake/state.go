// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import "strings"

// State of a Handshake.
type State uint8

const (
	// Connecting is the State before Start was called.
	Connecting State = iota

	// VersionsWait waits for the peer's VERSIONS cell.
	VersionsWait

	// CertsWait waits for the peer's CERTS cell. A responder also accepts NETINFO from an unauthenticated initiator.
	CertsWait

	// AuthChallengeWait is the initiator waiting for the responder's AUTH_CHALLENGE.
	AuthChallengeWait

	// AuthenticateWait is the responder waiting for the initiator's AUTHENTICATE.
	AuthenticateWait

	// NetinfoWait waits for the peer's NETINFO.
	NetinfoWait

	// Open is the terminal State of a successful Handshake.
	Open

	// Failed is the terminal State after an error.
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case VersionsWait:
		return "VERSIONS_WAIT"
	case CertsWait:
		return "CERTS_WAIT"
	case AuthChallengeWait:
		return "AUTH_CHALLENGE_WAIT"
	case AuthenticateWait:
		return "AUTHENTICATE_WAIT"
	case NetinfoWait:
		return "NETINFO_WAIT"
	case Open:
		return "OPEN"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Phase is a completed part of the handshake; phases are combined as a bit set.
type Phase uint8

const (
	PhaseVersions Phase = 1 << iota
	PhaseCerts
	PhaseAuthChallenge
	PhaseAuthenticate
	PhaseNetinfo
)

// Has checks if all phases of o are set.
func (p Phase) Has(o Phase) bool {
	return p&o == o
}

func (p Phase) String() string {
	var parts []string
	for _, named := range []struct {
		phase Phase
		name  string
	}{
		{PhaseVersions, "VERSIONS"},
		{PhaseCerts, "CERTS"},
		{PhaseAuthChallenge, "AUTH_CHALLENGE"},
		{PhaseAuthenticate, "AUTHENTICATE"},
		{PhaseNetinfo, "NETINFO"},
	} {
		if p.Has(named.phase) {
			parts = append(parts, named.name)
		}
	}
	return strings.Join(parts, "|")
}
