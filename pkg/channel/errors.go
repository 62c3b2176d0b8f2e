// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import "errors"

var (
	// ErrChannelClosed is returned by SendCell after the Channel started closing.
	ErrChannelClosed = errors.New("channel is closed")

	// ErrCongested is returned by SendCell while the transport's write buffer and the send queue together reach the
	// high-water mark. The
	// circuit layer should retry after the Channel becomes writable again.
	ErrCongested = errors.New("channel is congested")

	// ErrNotOpen is returned by SendCell for link cells before the handshake was completed.
	ErrNotOpen = errors.New("channel is not open")

	// ErrManagerClosed is returned after the Manager was closed.
	ErrManagerClosed = errors.New("channel manager is closed")
)
