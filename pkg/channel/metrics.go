// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"time"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

// Metrics collects counters of all Channels. Its methods are called on the Loop.
type Metrics interface {
	// CellProcessed is called for every received cell.
	CellProcessed(cmd cell.Command)

	// CellSent is called for every cell handed to the transport.
	CellSent(cmd cell.Command)

	// ProtocolViolation is called for every dropped or fatal protocol violation.
	ProtocolViolation()

	// ChannelOpened is called after a handshake was completed.
	ChannelOpened(role linkcrypto.Role, linkVersion uint16)

	// ChannelClosed is called once per Channel with the Kind of its close reason and if it was open before.
	ChannelClosed(kind linkerr.Kind, wasOpen bool)

	// CellsDiscarded is called when closing a Channel with unsent cells.
	CellsDiscarded(n int)

	// ClockSkew reports a peer's clock skew.
	ClockSkew(skew time.Duration)

	// Congestion is called when a Channel becomes congested or writable again.
	Congestion(congested bool)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) CellProcessed(cell.Command)            {}
func (NoopMetrics) CellSent(cell.Command)                 {}
func (NoopMetrics) ProtocolViolation()                    {}
func (NoopMetrics) ChannelOpened(linkcrypto.Role, uint16) {}
func (NoopMetrics) ChannelClosed(linkerr.Kind, bool)      {}
func (NoopMetrics) CellsDiscarded(int)                    {}
func (NoopMetrics) ClockSkew(time.Duration)               {}
func (NoopMetrics) Congestion(bool)                       {}
