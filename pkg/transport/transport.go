// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport provides the byte streams channels are carried over.
//
// A Transport never calls into its channel directly. Every received chunk of bytes, every low-water notification
// and the final error are handed to the Poster, which queues them on the channel's event loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrClosed is returned when writing to a Transport after Close was called or after it has failed.
var ErrClosed = errors.New("transport is closed")

// Poster queues a task for the event loop.
type Poster func(task func())

// Sink receives a Transport's events. All methods are called from tasks submitted to the Poster.
type Sink interface {
	// HandleRead is called with each chunk of received bytes, in order.
	HandleRead(data []byte)

	// HandleWritable is called after the write buffer has fallen to or below the low-water mark.
	HandleWritable()

	// HandleTransportError is called once when the Transport failed or the peer closed it.
	HandleTransportError(err error)
}

// Exporter derives keying material from a TLS session as specified by RFC 5705.
type Exporter func(label string, context []byte, length int) ([]byte, error)

// PeerInfo describes the authenticated properties of a connection.
type PeerInfo struct {
	RemoteAddr net.Addr

	// CertDigest is the SHA-256 digest of the peer's TLS certificate, nil if none was presented.
	CertDigest []byte

	// LocalCertDigest is the SHA-256 digest of the local TLS certificate, nil if none was presented.
	LocalCertDigest []byte

	// Exporter of the underlying TLS session, nil without TLS.
	Exporter Exporter
}

// RemoteIP returns the peer's IP address, if known.
func (pi PeerInfo) RemoteIP() net.IP {
	switch addr := pi.RemoteAddr.(type) {
	case *net.TCPAddr:
		return addr.IP
	case *net.UDPAddr:
		return addr.IP
	case nil:
		return nil
	default:
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			return net.ParseIP(host)
		}
		return nil
	}
}

// Transport is a reliable, ordered byte stream to a peer.
type Transport interface {
	fmt.Stringer

	// Start delivering events to the Sink through the Poster. The lowWater mark in bytes controls when
	// HandleWritable is triggered.
	Start(sink Sink, post Poster, lowWater int)

	// Write appends data to the write buffer. It never blocks.
	Write(data []byte) error

	// Buffered returns the amount of bytes accepted by Write but not yet written to the network.
	Buffered() int

	// PeerInfo of this connection.
	PeerInfo() PeerInfo

	// Close this Transport after the write buffer was flushed. No Sink methods are called afterwards.
	Close() error
}

// Dialer establishes outgoing Transports.
type Dialer interface {
	// Dial an address. The returned Transport is connected but not started.
	Dial(ctx context.Context, address string) (Transport, error)
}

// Listener accepts incoming Transports.
type Listener interface {
	fmt.Stringer

	// Start listening and pass every accepted Transport to the accept function.
	Start(accept func(Transport)) error

	// Close this Listener. Already accepted Transports stay open.
	Close() error
}
