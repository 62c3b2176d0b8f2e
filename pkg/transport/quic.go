// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// quicALPN is the application protocol negotiated on QUIC connections.
const quicALPN = "orlink"

// quicLinger is the time between closing the stream and closing the connection, giving the peer the chance to read
// the remaining data.
const quicLinger = time.Second

func quicTLSConfig(cert tls.Certificate, server bool) *tls.Config {
	conf := tlsConfig(cert, server)
	conf.NextProtos = []string{quicALPN}
	return conf
}

func quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: DefaultHandshakeTimeout,
		MaxIdleTimeout:       5 * time.Minute,
		KeepAlivePeriod:      time.Minute,
	}
}

// quicStream carries a link over the single bidirectional stream of a QUIC connection.
type quicStream struct {
	quic.Stream
	conn quic.Connection
}

func (qs *quicStream) Close() error {
	err := qs.Stream.Close()
	time.AfterFunc(quicLinger, func() {
		_ = qs.conn.CloseWithError(0, "")
	})
	return err
}

func quicPeerInfo(conn quic.Connection, local tls.Certificate) PeerInfo {
	return tlsPeerInfo(conn.ConnectionState().TLS, conn.RemoteAddr(), local)
}

// QUICDialer establishes QUIC connections and opens one stream on each.
type QUICDialer struct {
	Certificate tls.Certificate
	Timeout     time.Duration
}

// Dial a QUIC connection.
func (d QUICDialer) Dial(ctx context.Context, address string) (Transport, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, address, quicTLSConfig(d.Certificate, false), quicConfig())
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}

	return NewConn(&quicStream{stream, conn}, quicPeerInfo(conn, d.Certificate), fmt.Sprintf("quic://%s", address)), nil
}

// QUICListener accepts QUIC connections and waits for the peer's stream on each.
type QUICListener struct {
	listenAddress string
	certificate   tls.Certificate

	ln *quic.Listener

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// ListenQUIC creates a new QUICListener which should be bound to the given UDP address.
func ListenQUIC(listenAddress string, certificate tls.Certificate) *QUICListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &QUICListener{
		listenAddress: listenAddress,
		certificate:   certificate,

		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Addr of the bound socket, only valid after Start.
func (listener *QUICListener) Addr() net.Addr {
	return listener.ln.Addr()
}

// Start this QUICListener.
func (listener *QUICListener) Start(accept func(Transport)) error {
	ln, err := quic.ListenAddr(listener.listenAddress, quicTLSConfig(listener.certificate, true), quicConfig())
	if err != nil {
		return err
	}
	listener.ln = ln

	go func() {
		defer close(listener.done)

		for {
			conn, err := ln.Accept(listener.ctx)
			if err != nil {
				if listener.ctx.Err() == nil {
					log.WithField("listener", listener).WithError(err).Warn("QUICListener failed to accept")
				}
				return
			}

			go listener.acceptStream(conn, accept)
		}
	}()

	return nil
}

func (listener *QUICListener) acceptStream(conn quic.Connection, accept func(Transport)) {
	ctx, cancel := context.WithTimeout(listener.ctx, DefaultHandshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"listener": listener,
			"peer":     conn.RemoteAddr(),
		}).WithError(err).Debug("QUIC connection opened no stream")

		_ = conn.CloseWithError(0, "")
		return
	}

	name := fmt.Sprintf("quic://%v", conn.RemoteAddr())
	accept(NewConn(&quicStream{stream, conn}, quicPeerInfo(conn, listener.certificate), name))
}

// Close this QUICListener. Its accepted connections share the UDP socket and are terminated as well.
func (listener *QUICListener) Close() error {
	listener.cancel()
	if listener.ln == nil {
		return nil
	}

	err := listener.ln.Close()
	<-listener.done
	return err
}

func (listener *QUICListener) String() string {
	return fmt.Sprintf("quic://%s", listener.listenAddress)
}
