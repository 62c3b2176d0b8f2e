// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/channel"
)

// circuitStub is the channel.Handler of this daemon. It has no circuit layer and refuses every circuit request.
type circuitStub struct{}

func (circuitStub) OnOpen(ch *channel.Channel) {
	log.WithFields(log.Fields{
		"channel":  ch,
		"identity": ch.PeerIdentity().Short(),
		"version":  ch.LinkVersion(),
	}).Info("Channel is open")
}

func (circuitStub) OnCell(ch *channel.Channel, c cell.Cell) {
	switch c.Command {
	case cell.CREATE, cell.CREATE2, cell.CREATE_FAST:
		if err := ch.SendCell(cell.NewDestroy(c.CircID, cell.DestroyResourceLimit)); err != nil {
			log.WithError(err).WithField("channel", ch).Debug("Failed to refuse circuit")
		}

	default:
		log.WithFields(log.Fields{
			"channel": ch,
			"circuit": c.CircID,
			"command": c.Command,
		}).Debug("Ignoring cell of an unknown circuit")
	}
}

func (circuitStub) OnClosed(ch *channel.Channel, reason error) {
	log.WithFields(log.Fields{
		"channel": ch,
		"reason":  reason,
	}).Info("Channel is closed")
}
