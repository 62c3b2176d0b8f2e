// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/channel"
	"github.com/dtn7/orlink-go/pkg/history"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/metrics/prom"
)

// redialInterval is the period for reconnecting configured peers without an open channel.
const redialInterval = 30 * time.Second

// daemon bundles all components of a running orlinkd.
type daemon struct {
	keys     *linkcrypto.KeySet
	loop     *channel.Loop
	manager  *channel.Manager
	registry *prometheus.Registry
	store    *history.Store
	peers    []peer

	statusServer *http.Server

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{}
}

// newDaemon sets up and starts all components described by the configuration.
func newDaemon(conf tomlConfig) (d *daemon, err error) {
	applyLogging(conf.Logging)

	cc, err := conf.Link.channelConfig()
	if err != nil {
		return
	}

	identity, err := linkcrypto.LoadOrCreateIdentity(conf.Core.Identity)
	if err != nil {
		return
	}

	d = &daemon{
		loop:     channel.NewLoop(),
		registry: prom.NewRegistry(),
		consumed: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	// TODO: rotate the KeySet before linkcrypto.LinkKeyLifetime passes; listeners must pick up the new TLS certificate.
	if d.keys, err = linkcrypto.NewKeySet(identity, time.Now()); err != nil {
		return nil, err
	}
	log.WithField("identity", d.keys.Digest()).Info("Loaded relay identity")

	d.manager = channel.NewManager(cc, d.loop, d.keys, circuitStub{}, prom.NewChannelMetrics(d.registry))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.loop.Run(d.ctx)
	}()

	if conf.History.Store != "" {
		if d.store, err = history.NewStore(conf.History.Store); err != nil {
			close(d.consumed)
			_ = d.shutdown()
			return nil, err
		}
		go func() {
			d.store.Consume(d.manager.StatusChannel())
			close(d.consumed)
		}()

		if conf.History.Retention != "" {
			retention, _ := time.ParseDuration(conf.History.Retention)
			d.wg.Add(1)
			go d.prune(retention)
		}
	} else {
		go func() {
			for range d.manager.StatusChannel() {
			}
			close(d.consumed)
		}()
	}

	for _, listenConf := range conf.Listen {
		if listenErr := d.listen(listenConf); listenErr != nil {
			err = multierror.Append(err, listenErr)
		}
	}
	if err != nil {
		_ = d.shutdown()
		return nil, err
	}

	for _, peerConf := range conf.Peer {
		p, peerErr := parsePeer(peerConf, d.keys.TLSCertificate())
		if peerErr != nil {
			_ = d.shutdown()
			return nil, peerErr
		}
		d.peers = append(d.peers, p)
	}
	if len(d.peers) > 0 {
		d.wg.Add(1)
		go d.redial()
	}

	if conf.Status.Listen != "" {
		d.statusServer = &http.Server{
			Addr:    conf.Status.Listen,
			Handler: newStatusAPI(d.manager, d.store, d.registry),
		}
		go func() {
			if err := d.statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).WithField("address", conf.Status.Listen).Warn("Status server errored")
			}
		}()
	}

	return d, nil
}

// listen starts a Listener on the Loop.
func (d *daemon) listen(conf listenConf) error {
	listener, err := parseListen(conf, d.keys.TLSCertificate())
	if err != nil {
		return err
	}

	var listenErr error
	if err = d.loop.Call(d.ctx, func() { listenErr = d.manager.Listen(listener) }); err != nil {
		return err
	}
	return listenErr
}

// connectPeers opens a channel to every configured peer without one.
func (d *daemon) connectPeers() {
	for _, p := range d.peers {
		p := p
		d.loop.Post(func() {
			d.manager.GetOrOpen(d.ctx, p.dialer, p.address, p.identity, func(ch *channel.Channel, err error) {
				if err != nil {
					log.WithError(err).WithFields(log.Fields{
						"peer":     p.address,
						"identity": p.identity.Short(),
					}).Info("Failed to connect peer")
				}
			})
		})
	}
}

// redial connects peers right away and then periodically, until the daemon is closed.
func (d *daemon) redial() {
	defer d.wg.Done()

	d.connectPeers()

	ticker := time.NewTicker(redialInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.connectPeers()
		}
	}
}

// prune removes expired link records from the history store.
func (d *daemon) prune(retention time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if err := d.store.DeleteBefore(time.Now().Add(-retention)); err != nil {
			log.WithError(err).Warn("Failed to prune link history")
		}

		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// shutdown every started component and aggregate their errors.
func (d *daemon) shutdown() error {
	var errs *multierror.Error

	if d.statusServer != nil {
		if err := d.statusServer.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if d.manager != nil {
		var closeErr error
		if err := d.loop.Call(d.ctx, func() { closeErr = d.manager.Close() }); err != nil {
			errs = multierror.Append(errs, err)
		} else if closeErr != nil {
			errs = multierror.Append(errs, closeErr)
		}
		<-d.consumed
	}

	d.cancel()
	d.wg.Wait()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}
