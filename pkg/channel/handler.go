// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import "github.com/dtn7/orlink-go/pkg/cell"

// Handler is the circuit layer on top of the Channels. All methods are called on the Loop.
type Handler interface {
	// OnOpen is called once after the Channel's handshake was completed.
	OnOpen(ch *Channel)

	// OnCell is called for every circuit-bearing cell received on an open Channel, in arrival order.
	OnCell(ch *Channel, c cell.Cell)

	// OnClosed is called exactly once when the Channel is gone, also for Channels which never opened. The reason is a
	// *linkerr.Error.
	OnClosed(ch *Channel, reason error)
}

// WritableHandler might additionally be implemented by a Handler to learn when a congested Channel accepts cells
// again.
type WritableHandler interface {
	OnWritable(ch *Channel)
}

// HandlerFuncs implements Handler by optional functions.
type HandlerFuncs struct {
	Open     func(ch *Channel)
	Cell     func(ch *Channel, c cell.Cell)
	Closed   func(ch *Channel, reason error)
	Writable func(ch *Channel)
}

func (hf HandlerFuncs) OnOpen(ch *Channel) {
	if hf.Open != nil {
		hf.Open(ch)
	}
}

func (hf HandlerFuncs) OnCell(ch *Channel, c cell.Cell) {
	if hf.Cell != nil {
		hf.Cell(ch, c)
	}
}

func (hf HandlerFuncs) OnClosed(ch *Channel, reason error) {
	if hf.Closed != nil {
		hf.Closed(ch, reason)
	}
}

func (hf HandlerFuncs) OnWritable(ch *Channel) {
	if hf.Writable != nil {
		hf.Writable(ch)
	}
}
