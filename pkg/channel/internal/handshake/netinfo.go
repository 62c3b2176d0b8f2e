// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

func (h *Handshake) sendNetinfo(step *Step) error {
	netinfo, err := cell.NewNetinfo(h.conf.Clock(), h.conf.PeerInfo.RemoteIP(), h.conf.AdvertisedAddrs).Cell()
	if err != nil {
		return linkerr.Wrap(linkerr.ProtocolViolation, err, "creating NETINFO")
	}
	return h.encode(netinfo, step)
}

// handleNetinfo finishes the Handshake. A NETINFO on an open link only updates the peer's addresses.
func (h *Handshake) handleNetinfo(c cell.Cell) (step Step, err error) {
	netinfo, parseErr := cell.ParseNetinfo(c)
	if parseErr != nil {
		return h.fail(linkerr.Wrap(linkerr.ProtocolViolation, parseErr, "parsing NETINFO"))
	}

	if h.state == CertsWait {
		// A responder receiving NETINFO instead of CERTS talks to an unauthenticated initiator, e.g., a client.
		if h.conf.RequireAuthentication {
			return h.fail(linkerr.Violation("initiator did not authenticate"))
		}
		h.log().Debug("Initiator skipped authentication")
	}

	if h.state == NetinfoWait && h.conf.Role == linkcrypto.Initiator && !h.authenticated && !h.conf.ExpectedIdentity.IsZero() {
		// Legacy links carry no identity to check.
		return h.fail(linkerr.New(linkerr.CryptoFailure, "responder did not prove the expected identity %v",
			h.conf.ExpectedIdentity.Short()))
	}

	h.applyNetinfo(netinfo)

	if h.state == Open {
		h.log().WithField("netinfo", netinfo).Debug("Updated peer addresses")
		return
	}

	if !h.sentNetinfo() {
		if err = h.sendNetinfo(&step); err != nil {
			return h.fail(err)
		}
	}

	h.state = Open
	h.logPeer().Debug("Link handshake completed")
	return
}

// sentNetinfo reports if NETINFO was already sent. Legacy links send it right after VERSIONS, responders together
// with their certificates.
func (h *Handshake) sentNetinfo() bool {
	return h.linkVersion < 3 || h.conf.Role == linkcrypto.Responder
}

func (h *Handshake) applyNetinfo(netinfo cell.Netinfo) {
	h.peerNetinfo = netinfo
	h.observedAddr = netinfo.OtherAddr

	if netinfo.Timestamp != 0 {
		skew := h.conf.Clock().Sub(netinfo.Time())
		h.clockSkew = skew

		if skew > h.conf.ClockSkewTolerance || -skew > h.conf.ClockSkewTolerance {
			h.log().WithFields(log.Fields{
				"skew":      skew.Round(time.Second),
				"tolerance": h.conf.ClockSkewTolerance,
			}).Warn("Peer's clock is skewed")
		}
	}

	h.canonical = containsIP(netinfo.MyAddrs, h.conf.PeerInfo.RemoteIP())
}

func containsIP(ips []net.IP, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, candidate := range ips {
		if candidate.Equal(ip) {
			return true
		}
	}
	return false
}
