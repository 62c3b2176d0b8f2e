// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/channel/internal/handshake"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

// HandleRead decodes and dispatches received bytes. It implements transport.Sink.
func (ch *Channel) HandleRead(data []byte) {
	if ch.state.IsTerminal() {
		return
	}

	_, _ = ch.decoder.Write(data)
	ch.lastActivity = ch.conf.Clock()
	ch.processInput()
}

// HandleTransportError fails this Channel. It implements transport.Sink.
func (ch *Channel) HandleTransportError(err error) {
	ch.fail(linkerr.Wrap(linkerr.TransportError, err, "transport failed"))
}

// processInput dispatches all complete cells unless a verification is pending.
func (ch *Channel) processInput() {
	for ch.verifying == nil && !ch.state.IsTerminal() {
		c, wire, err := ch.decoder.Next()
		if errors.Is(err, cell.ErrNeedMoreData) {
			return
		} else if err != nil {
			ch.fail(linkerr.Wrap(linkerr.ProtocolViolation, err, "decoding cell"))
			return
		}

		ch.dispatch(c, wire)
	}
}

// dispatch a received cell to the handshake or to the circuit layer.
func (ch *Channel) dispatch(c cell.Cell, wire []byte) {
	ch.cellsReceived++
	ch.manager.metrics.CellProcessed(c.Command)

	switch {
	case c.Command.IsLinkManagement():
		ch.afterStep(ch.hs.Handle(c, wire))

	case c.Command.IsCircuitBearing():
		switch {
		case ch.state.IsOpen():
			ch.manager.handler.OnCell(ch, c)
		case ch.hs.LinkVersion() == 0:
			ch.fail(linkerr.Violation("%v received before VERSIONS", c.Command))
		default:
			ch.violation(c, "circuit cell received before the channel was open")
		}

	default:
		ch.log().WithField("cell", c).Debug("Ignoring cell with unknown command")
	}
}

// violation records a non-fatal protocol violation; the cell is dropped.
func (ch *Channel) violation(c cell.Cell, msg string) {
	ch.violations++
	ch.manager.metrics.ProtocolViolation()

	ch.log().WithFields(log.Fields{
		"cell":  c,
		"state": ch.hs.State(),
	}).Warn("Dropping cell: " + msg)
}

// afterStep sends the handshake's cells and runs its verification.
func (ch *Channel) afterStep(step handshake.Step, err error) {
	if err != nil {
		ch.fail(err)
		return
	}

	// Cells following VERSIONS are framed by the negotiated version.
	ch.decoder.SetLinkVersion(ch.hs.LinkVersion())

	for _, out := range step.Send {
		ch.push(queuedCell{command: out.Cell.Command, wire: out.Wire})
	}
	if len(step.Send) > 0 {
		ch.scheduleFlush()
	}

	if step.Verify != nil {
		ch.verify(step.Verify)
		return
	}

	if ch.state == Opening && ch.hs.State() == handshake.Open {
		ch.opened()
	}
}

// verify runs a handshake verification, either inline or on its own goroutine. Decoding pauses until the result was
// passed to the handshake.
func (ch *Channel) verify(fn func() error) {
	if !ch.conf.OffloadCrypto {
		ch.afterStep(ch.hs.Resume(fn()))
		return
	}

	pending := &pendingVerify{}
	ch.verifying = pending

	loop := ch.manager.loop
	go func() {
		err := fn()
		loop.Post(func() {
			if pending.canceled {
				return
			}

			ch.verifying = nil
			ch.afterStep(ch.hs.Resume(err))
			ch.processInput()
		})
	}()
}
