// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultHandshakeTimeout bounds dialing and the TLS handshake of incoming connections.
const DefaultHandshakeTimeout = 10 * time.Second

// The link's authenticity is established by the CERTS cell. TLS certificates are self-signed and only bound to the
// peer's identity by a signing-key certificate, therefore TLS' own verification is disabled.
func tlsConfig(cert tls.Certificate, server bool) *tls.Config {
	conf := &tls.Config{
		MinVersion: tls.VersionTLS13,
	}
	if len(cert.Certificate) > 0 {
		conf.Certificates = []tls.Certificate{cert}
	}
	if server {
		conf.ClientAuth = tls.RequestClientCert
	} else {
		conf.InsecureSkipVerify = true
	}
	return conf
}

// tlsPeerInfo extracts the certificate digests and the keying material exporter of a TLS session.
func tlsPeerInfo(state tls.ConnectionState, remote net.Addr, local tls.Certificate) PeerInfo {
	info := PeerInfo{
		RemoteAddr: remote,
		Exporter:   state.ExportKeyingMaterial,
	}

	if len(state.PeerCertificates) > 0 {
		digest := sha256.Sum256(state.PeerCertificates[0].Raw)
		info.CertDigest = digest[:]
	}
	if len(local.Certificate) > 0 {
		digest := sha256.Sum256(local.Certificate[0])
		info.LocalCertDigest = digest[:]
	}
	return info
}

// TLSDialer establishes TLS over TCP connections.
type TLSDialer struct {
	Certificate tls.Certificate
	Timeout     time.Duration
}

// Dial a TLS connection and complete its handshake.
func (d TLSDialer) Dial(ctx context.Context, address string) (Transport, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}

	dialer := &tls.Dialer{
		NetDialer: newNetDialer(timeout),
		Config:    tlsConfig(d.Certificate, false),
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	tlsConn := conn.(*tls.Conn)
	info := tlsPeerInfo(tlsConn.ConnectionState(), tlsConn.RemoteAddr(), d.Certificate)
	return NewConn(tlsConn, info, fmt.Sprintf("tls://%s", address)), nil
}

// TLSListener accepts TLS over TCP connections.
type TLSListener struct {
	listenAddress string
	certificate   tls.Certificate

	ln *net.TCPListener

	stopSyn chan struct{}
	stopAck chan struct{}
}

// ListenTLS creates a new TLSListener which should be bound to the given address.
func ListenTLS(listenAddress string, certificate tls.Certificate) *TLSListener {
	return &TLSListener{
		listenAddress: listenAddress,
		certificate:   certificate,

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}
}

// Addr of the bound socket, only valid after Start.
func (listener *TLSListener) Addr() net.Addr {
	return listener.ln.Addr()
}

// Start this TLSListener. Each connection's TLS handshake runs in its own goroutine.
func (listener *TLSListener) Start(accept func(Transport)) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", listener.listenAddress)
	if err != nil {
		return err
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err
	}
	listener.ln = ln

	conf := tlsConfig(listener.certificate, true)

	go func(ln *net.TCPListener) {
		for {
			select {
			case <-listener.stopSyn:
				_ = ln.Close()
				close(listener.stopAck)

				return

			default:
				if err := ln.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
					log.WithError(err).WithField("listener", listener).Error(
						"TLSListener failed to set deadline on TCP socket")

					_ = ln.Close()
					close(listener.stopAck)
					return
				} else if conn, err := ln.Accept(); err == nil {
					go listener.handshake(tls.Server(conn, conf), accept)
				}
			}
		}
	}(ln)

	return nil
}

func (listener *TLSListener) handshake(conn *tls.Conn, accept func(Transport)) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultHandshakeTimeout)
	defer cancel()

	if err := conn.HandshakeContext(ctx); err != nil {
		log.WithFields(log.Fields{
			"listener": listener,
			"peer":     conn.RemoteAddr(),
		}).WithError(err).Debug("TLS handshake of incoming connection failed")

		_ = conn.Close()
		return
	}

	info := tlsPeerInfo(conn.ConnectionState(), conn.RemoteAddr(), listener.certificate)
	accept(NewConn(conn, info, fmt.Sprintf("tls://%v", conn.RemoteAddr())))
}

// Close signals this TLSListener to shut down.
func (listener *TLSListener) Close() error {
	select {
	case <-listener.stopAck:
		return nil
	default:
	}

	close(listener.stopSyn)
	<-listener.stopAck

	return nil
}

func (listener *TLSListener) String() string {
	return fmt.Sprintf("tls://%s", listener.listenAddress)
}
