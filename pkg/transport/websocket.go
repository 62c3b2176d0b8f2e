// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// wsStream exposes a *websocket.Conn as a byte stream. Each Write becomes one binary message.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (ws *wsStream) Read(p []byte) (int, error) {
	for {
		if ws.reader == nil {
			mt, r, err := ws.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				return 0, fmt.Errorf("expected message type %d instead of %d", websocket.BinaryMessage, mt)
			}
			ws.reader = r
		}

		n, err := ws.reader.Read(p)
		if err == io.EOF {
			ws.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (ws *wsStream) Write(p []byte) (int, error) {
	if err := ws.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (ws *wsStream) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = ws.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return ws.conn.Close()
}

// wsPeerInfo uses the TLS session of wss:// connections.
func wsPeerInfo(conn *websocket.Conn, local tls.Certificate) PeerInfo {
	if tlsConn, ok := conn.UnderlyingConn().(*tls.Conn); ok {
		return tlsPeerInfo(tlsConn.ConnectionState(), conn.RemoteAddr(), local)
	}
	return PeerInfo{RemoteAddr: conn.RemoteAddr()}
}

// WebSocketDialer establishes connections to a WebSocketListener, e.g., "ws://192.0.2.1:8080/orlink".
type WebSocketDialer struct {
	Certificate tls.Certificate
	Timeout     time.Duration
}

// Dial a WebSocket URL.
func (d WebSocketDialer) Dial(ctx context.Context, address string) (Transport, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		TLSClientConfig:  tlsConfig(d.Certificate, false),
		NetDialContext:   newNetDialer(timeout).DialContext,
	}

	conn, _, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, err
	}

	return NewConn(&wsStream{conn: conn}, wsPeerInfo(conn, d.Certificate), address), nil
}

// WebSocketListener is a http.Handler to accept incoming connections via WebSockets.
type WebSocketListener struct {
	certificate tls.Certificate
	accept      func(Transport)
	acceptReady uint32

	upgrader websocket.Upgrader
}

// ListenWebSocket creates a new WebSocketListener. The certificate is only used to describe wss:// sessions, TLS
// termination is up to the serving http.Server.
func ListenWebSocket(certificate tls.Certificate) *WebSocketListener {
	return &WebSocketListener{
		certificate: certificate,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
	}
}

// Start this WebSocketListener.
func (listener *WebSocketListener) Start(accept func(Transport)) error {
	// There is no work to be done here. The heavy lifting is outsourced to the underlying http.Server.
	listener.accept = accept
	atomic.StoreUint32(&listener.acceptReady, 1)
	return nil
}

// Close this WebSocketListener.
func (listener *WebSocketListener) Close() error {
	atomic.StoreUint32(&listener.acceptReady, 0)
	return nil
}

func (listener *WebSocketListener) String() string {
	return "ws"
}

// ServeHTTP upgrades a HTTP connection to a WebSocket connection.
func (listener *WebSocketListener) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if atomic.LoadUint32(&listener.acceptReady) != 1 {
		http.Error(writer, "not accepting connections", http.StatusServiceUnavailable)
		return
	}

	if conn, err := listener.upgrader.Upgrade(writer, request, nil); err != nil {
		log.WithField("listener", listener).WithError(err).Warn("Upgrading connection errored")
	} else {
		name := fmt.Sprintf("ws://%v", conn.RemoteAddr())
		listener.accept(NewConn(&wsStream{conn: conn}, wsPeerInfo(conn, listener.certificate), name))
	}
}
