// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux
// +build linux

package transport

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Linux-specific socket options for outgoing TCP connections. A relay should notice a dead link quickly, so that its
// circuits can be torn down instead of waiting for the kernel's default timeouts.
//
// The socket options are based on the Linux tcp(7) manual page.
// <https://man7.org/linux/man-pages/man7/tcp.7.html>

// dialControl is the net.Dialer's Control function to set the socket options.
func dialControl(_, _ string, rawConn syscall.RawConn) (err error) {
	const (
		// dialTcpKeepCnt sets TCP_KEEPCNT, the maximum number of keepalive
		// probes to be sent before dropping the connection.
		dialTcpKeepCnt int = 3

		// dialTcpKeepIdle sets TCP_KEEPIDLE, the time (in seconds) the
		// connections needs to remain idle before keepalive probes being sent.
		dialTcpKeepIdle int = 60

		// dialTcpKeepIntvl sets TCP_KEEPINTVL, the time (in seconds) between
		// keepalive probes.
		dialTcpKeepIntvl int = 10

		// dialTcpUserTimeout sets TCP_USER_TIMEOUT, the maximum time (in
		// milliseconds) that transmitted data may remain unacknowledged before
		// the connection will forcibly be closed.
		dialTcpUserTimeout int = 30000
	)

	opts := map[int]int{
		unix.TCP_KEEPCNT:      dialTcpKeepCnt,
		unix.TCP_KEEPIDLE:     dialTcpKeepIdle,
		unix.TCP_KEEPINTVL:    dialTcpKeepIntvl,
		unix.TCP_USER_TIMEOUT: dialTcpUserTimeout,
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		for opt, value := range opts {
			if sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value); sockErr != nil {
				return
			}
		}
	})
	if err == nil {
		err = sockErr
	}
	return
}

// newNetDialer with socket options set.
func newNetDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: timeout,
		Control: dialControl,
	}
}
