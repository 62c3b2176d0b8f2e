// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package linkerr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{Violation("unexpected %s", "CERTS"), ProtocolViolation},
		{Wrap(TransportError, io.EOF, "read"), TransportError},
		{fmt.Errorf("handshake: %w", New(CryptoFailure, "bad signature")), CryptoFailure},
		{io.EOF, Unknown},
		{nil, Unknown},
	}

	for _, test := range tests {
		if k := KindOf(test.err); k != test.kind {
			t.Fatalf("%v: expected %v, got %v", test.err, test.kind, k)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	err := Wrap(TransportError, io.ErrUnexpectedEOF, "reading cell")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("cause is not unwrapped")
	}
	if !Is(err, TransportError) || Is(err, CryptoFailure) || Is(nil, TransportError) {
		t.Fatalf("Is misclassifies")
	}
	if s := err.Error(); s != "transport error: reading cell: unexpected EOF" {
		t.Fatalf("unexpected message %q", s)
	}
}
