// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDaemonLifecycle(t *testing.T) {
	dir := t.TempDir()

	conf := tomlConfig{
		Core:    coreConf{Identity: filepath.Join(dir, "identity.key")},
		Logging: logConf{Level: "debug"},
		Listen: []listenConf{
			{Protocol: "tls", Endpoint: "127.0.0.1:0"},
			{Protocol: "ws", Endpoint: "127.0.0.1:0", Path: "/orlink"},
		},
		History: historyConf{Store: filepath.Join(dir, "history"), Retention: "24h"},
	}
	if err := conf.check(); err != nil {
		t.Fatal(err)
	}

	d, err := newDaemon(conf)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(conf.Core.Identity); err != nil {
		t.Fatalf("identity was not stored: %v", err)
	}

	if err := d.shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestDaemonInvalidListener(t *testing.T) {
	dir := t.TempDir()

	conf := tomlConfig{
		Core:   coreConf{Identity: filepath.Join(dir, "identity.key")},
		Listen: []listenConf{{Protocol: "tls", Endpoint: "not an address"}},
	}

	if _, err := newDaemon(conf); err == nil {
		t.Fatal("daemon started with an invalid listener")
	}
}
