// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cell

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestIsVariableLength(t *testing.T) {
	tests := []struct {
		cmd      Command
		version  uint16
		variable bool
	}{
		{VERSIONS, 0, true},
		{VERSIONS, 2, true},
		{VERSIONS, 4, true},
		{CERTS, 0, true},
		{CERTS, 2, false},
		{CERTS, 3, true},
		{VPADDING, 5, true},
		{Command(200), 4, true},
		{NETINFO, 4, false},
		{RELAY, 4, false},
		{PADDING, 0, false},
		{VERSIONS, 1, false},
	}

	for _, test := range tests {
		if v := IsVariableLength(test.cmd, test.version); v != test.variable {
			t.Fatalf("%v on version %d: expected variable := %t, got %t", test.cmd, test.version, test.variable, v)
		}
	}
}

func TestCommandPartition(t *testing.T) {
	for cmd := range commandNames {
		if cmd.IsLinkManagement() == cmd.IsCircuitBearing() {
			t.Fatalf("%v is either both or none of link management and circuit bearing", cmd)
		}
	}

	if Command(42).IsKnown() || Command(42).IsLinkManagement() || Command(42).IsCircuitBearing() {
		t.Fatalf("unknown command is classified")
	}
}

func TestEncodeFixed(t *testing.T) {
	c := MustNewFixed(0x01020304, RELAY, []byte{0xAA, 0xBB})

	data, err := Encode(c, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 514 {
		t.Fatalf("fixed cell on v4 has %d bytes instead of 514", len(data))
	}
	if !bytes.Equal(data[:7], []byte{0x01, 0x02, 0x03, 0x04, 0x03, 0xAA, 0xBB}) {
		t.Fatalf("unexpected header %x", data[:7])
	}
	for _, b := range data[7:] {
		if b != 0 {
			t.Fatalf("fixed cell is not zero-padded")
		}
	}

	c3 := MustNewFixed(0x0102, CREATE_FAST, nil)
	if data, err = Encode(c3, 3); err != nil {
		t.Fatal(err)
	} else if len(data) != 512 {
		t.Fatalf("fixed cell on v3 has %d bytes instead of 512", len(data))
	}

	if _, err = Encode(MustNewFixed(0x10000, RELAY, nil), 3); err == nil {
		t.Fatalf("four byte circuit ID on a two byte link was accepted")
	}
}

func TestEncodeVersions(t *testing.T) {
	c, err := NewVersions([]uint16{3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}

	data, err := Encode(c, 0)
	if err != nil {
		t.Fatal(err)
	}

	expected := []byte{0x00, 0x00, 0x07, 0x00, 0x06, 0x00, 0x03, 0x00, 0x04, 0x00, 0x05}
	if !bytes.Equal(data, expected) {
		t.Fatalf("expected %x, got %x", expected, data)
	}
}

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(23))

	randBytes := func(n int) []byte {
		b := make([]byte, n)
		rnd.Read(b)
		return b
	}

	for _, version := range []uint16{0, 2, 3, 4, 5} {
		circID := uint32(0xBEEF)
		if CircIDLen(version) == 4 {
			circID = 0xDEADBEEF
		}

		cells := []Cell{
			MustNewFixed(circID, RELAY, randBytes(PayloadLen)),
			MustNewFixed(circID, CREATE2, randBytes(100)),
			MustNewFixed(0, PADDING, nil),
		}
		for _, cmd := range []Command{VERSIONS, VPADDING, CERTS} {
			if !IsVariableLength(cmd, version) {
				continue
			}
			c, err := NewVariable(0, cmd, randBytes(rnd.Intn(2048)))
			if err != nil {
				t.Fatal(err)
			}
			cells = append(cells, c)
		}

		for _, c := range cells {
			data, err := Encode(c, version)
			if err != nil {
				t.Fatal(err)
			}

			c2, n, err := Decode(data, version)
			if err != nil {
				t.Fatalf("decoding %v on version %d errored: %v", c, version, err)
			} else if n != len(data) {
				t.Fatalf("decoding consumed %d bytes instead of %d", n, len(data))
			} else if !c.Equal(c2) {
				t.Fatalf("cell differs after round trip on version %d: %v and %v", version, c, c2)
			}
		}
	}
}

func TestDecodeNeedMoreData(t *testing.T) {
	fixed, _ := Encode(MustNewFixed(7, RELAY, []byte("hello")), 4)
	variable, _ := Encode(Cell{CircID: 0, Command: CERTS, Payload: []byte("certificates")}, 4)

	for _, data := range [][]byte{fixed, variable} {
		for i := 0; i < len(data); i++ {
			if _, n, err := Decode(data[:i], 4); !errors.Is(err, ErrNeedMoreData) {
				t.Fatalf("decoding %d of %d bytes: expected ErrNeedMoreData, got %v", i, len(data), err)
			} else if n != 0 {
				t.Fatalf("incomplete decoding consumed %d bytes", n)
			}
		}
	}
}

func TestDecodeFixedMalformed(t *testing.T) {
	data, _ := Encode(Cell{Command: CERTS, Payload: []byte{0}}, 4)
	if _, _, err := DecodeFixed(data, 4, 4); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	if _, _, err := DecodeFixed(data, 3, 4); err == nil {
		t.Fatalf("invalid circuit ID length was accepted")
	}
}

func TestDecoderStreaming(t *testing.T) {
	versions, _ := NewVersions([]uint16{3, 4})
	certs, _ := NewCerts([]CertEntry{{Type: CertTypeIdentitySign, Body: []byte("cert")}})
	cells := []Cell{
		MustNewFixed(0, PADDING, nil),
		MustNewFixed(0x01020304, RELAY, []byte("relay payload")),
		certs,
		MustNewFixed(0x0A0B0C0D, DESTROY, []byte{9}),
	}

	// The VERSIONS cell negotiates version 4, which alters the following circuit ID length.
	stream, _ := Encode(versions, 0)
	for _, c := range cells {
		data, err := Encode(c, 4)
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, data...)
	}

	for _, chunkSize := range []int{1, 3, 7, 100, 513, len(stream)} {
		dec := NewDecoder()
		var got []Cell

		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			_, _ = dec.Write(stream[off:end])

			for {
				c, wire, err := dec.Next()
				if errors.Is(err, ErrNeedMoreData) {
					break
				} else if err != nil {
					t.Fatal(err)
				}

				if c.Command == VERSIONS {
					dec.SetLinkVersion(4)
				}
				if enc, _ := Encode(c, dec.LinkVersion()); c.Command != VERSIONS && !bytes.Equal(enc, wire) {
					t.Fatalf("wire bytes of %v differ", c)
				}
				got = append(got, c)
			}
		}

		if dec.Buffered() != 0 {
			t.Fatalf("chunk size %d: %d bytes left in decoder", chunkSize, dec.Buffered())
		}

		expected := append([]Cell{versions}, cells...)
		if len(got) != len(expected) {
			t.Fatalf("chunk size %d: got %d cells instead of %d", chunkSize, len(got), len(expected))
		}
		for i := range expected {
			if !expected[i].Equal(got[i]) {
				t.Fatalf("chunk size %d: cell %d differs: %v and %v", chunkSize, i, expected[i], got[i])
			}
		}
	}
}
