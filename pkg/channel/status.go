// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import "fmt"

// StatusType indicates the kind of a Status.
type StatusType uint

const (
	_ StatusType = iota

	// ChannelOpened shows a completed handshake.
	ChannelOpened

	// ChannelClosed shows the end of a Channel. The Status' Reason is set.
	ChannelClosed
)

func (st StatusType) String() string {
	switch st {
	case ChannelOpened:
		return "Channel Opened"
	case ChannelClosed:
		return "Channel Closed"
	default:
		return "Unknown Type"
	}
}

// Status of a Channel, sent to the Manager's StatusChannel. It carries a copy of the Channel's Info, so it might be
// consumed outside of the Loop.
type Status struct {
	Type   StatusType
	Info   Info
	Reason error
}

func (s Status) String() string {
	return fmt.Sprintf("%v for channel %d", s.Type, s.Info.ID)
}
