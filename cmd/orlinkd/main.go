// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// orlinkd runs the link layer of a relay: it accepts and opens channels, refuses circuits and reports its channels
// by a REST API and Prometheus metrics.
package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	d, err := newDaemon(conf)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to start daemon")
	}

	watcher, err := watchConfig(os.Args[1], func(conf tomlConfig) { applyLogging(conf.Logging) })
	if err != nil {
		log.WithError(err).Warn("Configuration changes will not be applied")
	}

	waitSigint()
	log.Info("Shutting down..")

	if watcher != nil {
		_ = watcher.Close()
	}
	if err := d.shutdown(); err != nil {
		log.WithError(err).Warn("Shutdown errored")
	}
}
