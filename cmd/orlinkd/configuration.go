// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/channel"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/transport"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core    coreConf
	Logging logConf
	Link    linkConf
	Listen  []listenConf
	Peer    []peerConf
	Status  statusConf
	History historyConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	// Identity is the file of the Ed25519 identity key, created if missing.
	Identity string
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// linkConf describes the Link-configuration block.
type linkConf struct {
	Versions              []int
	Client                bool
	RequireAuthentication bool     `toml:"require-authentication"`
	HighWater             int      `toml:"high-water"`
	LowWater              int      `toml:"low-water"`
	HandshakeTimeout      string   `toml:"handshake-timeout"`
	ClockSkewTolerance    string   `toml:"clock-skew-tolerance"`
	Advertise             []string `toml:"advertise"`
}

// listenConf describes a Listen-configuration block.
type listenConf struct {
	Protocol string
	Endpoint string
	Path     string
}

// peerConf describes a Peer-configuration block.
type peerConf struct {
	Protocol string
	Endpoint string
	Identity string
}

// statusConf describes the Status-configuration block for the REST API.
type statusConf struct {
	Listen string
}

// historyConf describes the History-configuration block.
type historyConf struct {
	Store     string
	Retention string
}

// parseConfig reads and checks a TOML configuration file.
func parseConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	err = conf.check()
	return
}

// check the configuration for errors, reporting all of them.
func (conf tomlConfig) check() error {
	var errs *multierror.Error

	if conf.Core.Identity == "" {
		errs = multierror.Append(errs, fmt.Errorf("core.identity is empty"))
	}

	if _, err := conf.Link.channelConfig(); err != nil {
		errs = multierror.Append(errs, err)
	}

	for _, listen := range conf.Listen {
		switch listen.Protocol {
		case "tls", "ws", "quic":
		default:
			errs = multierror.Append(errs, fmt.Errorf("unknown listen.protocol %q", listen.Protocol))
		}
		if listen.Endpoint == "" {
			errs = multierror.Append(errs, fmt.Errorf("listen.endpoint is empty"))
		}
	}

	for _, peer := range conf.Peer {
		if _, err := parsePeer(peer, tls.Certificate{}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if conf.History.Retention != "" {
		if _, err := time.ParseDuration(conf.History.Retention); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("history.retention: %w", err))
		}
	}

	return errs.ErrorOrNil()
}

// applyLogging configures logrus. It is applied again when the configuration file changes.
func applyLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// channelConfig creates a channel.Config from the Link-configuration block, starting from the defaults.
func (conf linkConf) channelConfig() (cc channel.Config, err error) {
	cc = channel.DefaultConfig()

	if len(conf.Versions) > 0 {
		cc.Versions = nil
		for _, v := range conf.Versions {
			if v < 2 || v > 0xFFFF {
				err = fmt.Errorf("link.versions: unsupported version %d", v)
				return
			}
			cc.Versions = append(cc.Versions, uint16(v))
		}
	}

	cc.Authenticate = !conf.Client
	cc.RequireAuthentication = conf.RequireAuthentication
	cc.HighWater = conf.HighWater
	cc.LowWater = conf.LowWater

	if conf.HandshakeTimeout != "" {
		if cc.HandshakeTimeout, err = time.ParseDuration(conf.HandshakeTimeout); err != nil {
			err = fmt.Errorf("link.handshake-timeout: %w", err)
			return
		}
	}
	if conf.ClockSkewTolerance != "" {
		if cc.ClockSkewTolerance, err = time.ParseDuration(conf.ClockSkewTolerance); err != nil {
			err = fmt.Errorf("link.clock-skew-tolerance: %w", err)
			return
		}
	}

	for _, addr := range conf.Advertise {
		ip := net.ParseIP(addr)
		if ip == nil {
			err = fmt.Errorf("link.advertise: invalid address %q", addr)
			return
		}
		cc.AdvertisedAddrs = append(cc.AdvertisedAddrs, ip)
	}
	return
}

// webSocketServer serves a transport.WebSocketListener on its own http.Server.
type webSocketServer struct {
	*transport.WebSocketListener
	server *http.Server
}

func (wss *webSocketServer) Start(accept func(transport.Transport)) error {
	if err := wss.WebSocketListener.Start(accept); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", wss.server.Addr)
	if err != nil {
		return err
	}

	go func() {
		if err := wss.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithField("address", wss.server.Addr).Warn("WebSocket server errored")
		}
	}()
	return nil
}

func (wss *webSocketServer) Close() error {
	_ = wss.WebSocketListener.Close()
	return wss.server.Close()
}

func (wss *webSocketServer) String() string {
	return fmt.Sprintf("ws://%s", wss.server.Addr)
}

// parseListen inspects a Listen-configuration block and returns a transport.Listener.
func parseListen(conf listenConf, cert tls.Certificate) (transport.Listener, error) {
	switch conf.Protocol {
	case "tls":
		return transport.ListenTLS(conf.Endpoint, cert), nil

	case "quic":
		return transport.ListenQUIC(conf.Endpoint, cert), nil

	case "ws":
		path := conf.Path
		if path == "" {
			path = "/orlink"
		}

		wsListener := transport.ListenWebSocket(cert)
		router := mux.NewRouter()
		router.Handle(path, wsListener)

		return &webSocketServer{
			WebSocketListener: wsListener,
			server:            &http.Server{Addr: conf.Endpoint, Handler: router},
		}, nil

	default:
		return nil, fmt.Errorf("unknown listen.protocol %q", conf.Protocol)
	}
}

// peer is a statically configured relay.
type peer struct {
	dialer   transport.Dialer
	address  string
	identity linkcrypto.Digest
}

// parsePeer inspects a Peer-configuration block.
func parsePeer(conf peerConf, cert tls.Certificate) (p peer, err error) {
	if p.identity, err = linkcrypto.ParseDigest(conf.Identity); err != nil {
		err = fmt.Errorf("peer.identity of %s: %w", conf.Endpoint, err)
		return
	}
	p.address = conf.Endpoint

	switch conf.Protocol {
	case "tls":
		p.dialer = transport.TLSDialer{Certificate: cert}
	case "quic":
		p.dialer = transport.QUICDialer{Certificate: cert}
	case "ws":
		p.dialer = transport.WebSocketDialer{Certificate: cert}
	default:
		err = fmt.Errorf("unknown peer.protocol %q", conf.Protocol)
	}
	return
}
