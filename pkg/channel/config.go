// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"net"
	"time"
)

// Config of all Channels of a Manager.
type Config struct {
	// Versions are the supported link protocol versions.
	Versions []uint16

	// Authenticate outgoing links by AUTHENTICATE. Relays do this, clients do not.
	Authenticate bool

	// RequireAuthentication closes incoming links whose initiator did not authenticate.
	RequireAuthentication bool

	// HighWater of the transport's write buffer in bytes. Above, the Channel is congested.
	HighWater int

	// LowWater of the transport's write buffer in bytes. At or below, a congested Channel becomes writable again.
	LowWater int

	// DrainBudget is the amount of bytes written to the transport in one loop turn.
	DrainBudget int

	// ParkLimit is the amount of circuit cells accepted by SendCell before the handshake was completed.
	ParkLimit int

	// ClockSkewTolerance before a peer's clock is reported as skewed.
	ClockSkewTolerance time.Duration

	// HandshakeTimeout until an opening Channel is failed.
	HandshakeTimeout time.Duration

	// OffloadCrypto runs certificate and signature verifications on their own goroutines.
	OffloadCrypto bool

	// AdvertisedAddrs are announced as our addresses in NETINFO.
	AdvertisedAddrs []net.IP

	// Clock returns the current time.
	Clock func() time.Time
}

// DefaultConfig for a relay.
func DefaultConfig() Config {
	return Config{
		Versions:           []uint16{3, 4, 5},
		Authenticate:       true,
		HighWater:          64 * 1024,
		LowWater:           16 * 1024,
		DrainBudget:        32 * 1024,
		ParkLimit:          1024,
		ClockSkewTolerance: time.Hour,
		HandshakeTimeout:   30 * time.Second,
		OffloadCrypto:      true,
		Clock:              time.Now,
	}
}

// normalized replaces zero values by their defaults.
func (conf Config) normalized() Config {
	def := DefaultConfig()

	if len(conf.Versions) == 0 {
		conf.Versions = def.Versions
	}
	if conf.HighWater <= 0 {
		conf.HighWater = def.HighWater
	}
	if conf.LowWater <= 0 || conf.LowWater >= conf.HighWater {
		conf.LowWater = conf.HighWater / 4
	}
	if conf.DrainBudget <= 0 {
		conf.DrainBudget = def.DrainBudget
	}
	if conf.ParkLimit <= 0 {
		conf.ParkLimit = def.ParkLimit
	}
	if conf.ClockSkewTolerance <= 0 {
		conf.ClockSkewTolerance = def.ClockSkewTolerance
	}
	if conf.HandshakeTimeout <= 0 {
		conf.HandshakeTimeout = def.HandshakeTimeout
	}
	if conf.Clock == nil {
		conf.Clock = def.Clock
	}
	return conf
}
