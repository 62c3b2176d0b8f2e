// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

// SendCell queues a cell for the peer. It never blocks.
//
// Circuit cells sent before the handshake was completed are parked and queued once the Channel is open. While the
// transport is congested, ErrCongested is returned and the cell is not queued. The transport's buffer and the queue
// together are bounded by the high-water mark. After the Channel started closing, ErrChannelClosed is returned.
func (ch *Channel) SendCell(c cell.Cell) error {
	switch {
	case ch.state.IsTerminal():
		return ErrChannelClosed

	case ch.state == Maint:
		return ErrCongested

	case ch.state == Opening:
		if !c.Command.IsCircuitBearing() {
			return ErrNotOpen
		}
		if len(ch.parked) >= ch.conf.ParkLimit {
			return ErrCongested
		}
		ch.parked = append(ch.parked, c)
		return nil

	default:
		if ch.pending() >= ch.conf.HighWater {
			ch.setCongested(true)
			return ErrCongested
		}
		return ch.enqueue(c)
	}
}

// pending bytes, both buffered by the transport and queued.
func (ch *Channel) pending() int {
	return ch.transport.Buffered() + ch.queuedBytes
}

// enqueue encodes a cell for the negotiated version and schedules a flush.
func (ch *Channel) enqueue(c cell.Cell) error {
	wire, err := cell.Encode(c, ch.LinkVersion())
	if err != nil {
		return err
	}

	ch.push(queuedCell{command: c.Command, wire: wire})
	ch.scheduleFlush()
	return nil
}

func (ch *Channel) push(qc queuedCell) {
	ch.queue = append(ch.queue, qc)
	ch.queuedBytes += len(qc.wire)
}

// scheduleFlush posts one flush per loop turn, so that cells sent together are written together.
func (ch *Channel) scheduleFlush() {
	if ch.flushScheduled {
		return
	}
	ch.flushScheduled = true
	ch.manager.loop.Post(ch.flush)
}

// flush drains the queue into the transport until it is empty, the transport is congested or the drain budget of
// this turn is spent.
func (ch *Channel) flush() {
	ch.flushScheduled = false
	if ch.state.IsTerminal() {
		return
	}

	budget := ch.conf.DrainBudget
	for len(ch.queue) > 0 {
		if ch.transport.Buffered() >= ch.conf.HighWater {
			ch.setCongested(true)
			return
		}
		if budget <= 0 {
			ch.scheduleFlush()
			return
		}

		next := ch.queue[0]
		ch.queue[0] = queuedCell{}
		ch.queue = ch.queue[1:]
		ch.queuedBytes -= len(next.wire)

		if err := ch.transport.Write(next.wire); err != nil {
			ch.fail(linkerr.Wrap(linkerr.TransportError, err, "writing "+next.command.String()))
			return
		}

		budget -= len(next.wire)
		ch.cellsSent++
		ch.manager.metrics.CellSent(next.command)
	}

	// A Channel congested only by its own queue becomes writable once the queue was drained.
	if pending := ch.pending(); pending >= ch.conf.HighWater {
		ch.setCongested(true)
	} else if ch.state == Maint && pending <= ch.conf.LowWater {
		ch.setCongested(false)
	}
}

// HandleWritable is called when the transport's buffer fell to its low-water mark. It implements transport.Sink.
func (ch *Channel) HandleWritable() {
	if ch.state.IsTerminal() {
		return
	}

	if len(ch.queue) > 0 {
		ch.flush()
		if ch.state.IsTerminal() {
			return
		}
	}
	if ch.pending() < ch.conf.HighWater {
		ch.setCongested(false)
	}
}

// setCongested moves between the Open and Maint State. Only open Channels change their State; the handshake's cells
// are never throttled.
func (ch *Channel) setCongested(congested bool) {
	if !ch.state.IsOpen() || (ch.state == Maint) == congested {
		return
	}

	if congested {
		ch.state = Maint
	} else {
		ch.state = Open
	}

	ch.log().WithFields(log.Fields{
		"buffered":     ch.transport.Buffered(),
		"queued_bytes": ch.queuedBytes,
	}).Debugf("Channel changed to %v", ch.state)
	ch.manager.metrics.Congestion(congested)

	if !congested {
		if wh, ok := ch.manager.handler.(WritableHandler); ok {
			wh.OnWritable(ch)
		}
	}
}
