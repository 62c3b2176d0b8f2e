// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package transport

import (
	"net"
	"time"
)

// newNetDialer with a configured timeout and keepalive for operating systems next to Linux. The Linux variant
// additionally sets specific socket options for a better detection of connection losses.
func newNetDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
}
