// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cell

// Decoder frames cells out of a byte stream which arrives in arbitrary chunks.
//
// Bytes are appended by Write and cells are taken by Next. The link protocol version only affects cells which were
// not yet returned by Next, so a version negotiated by the latest cell applies to the following ones.
type Decoder struct {
	buf         []byte
	linkVersion uint16
}

// NewDecoder for a link without a negotiated version.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write appends received bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// SetLinkVersion changes the framing for all following cells.
func (d *Decoder) SetLinkVersion(linkVersion uint16) {
	d.linkVersion = linkVersion
}

// LinkVersion currently used for framing.
func (d *Decoder) LinkVersion() uint16 {
	return d.linkVersion
}

// Buffered returns the amount of bytes waiting for a complete cell.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete Cell together with its wire representation. ErrNeedMoreData is returned if the
// buffered bytes do not form a whole cell yet; nothing is consumed in this case.
func (d *Decoder) Next() (c Cell, wire []byte, err error) {
	c, n, err := Decode(d.buf, d.linkVersion)
	if err != nil {
		return
	}

	wire = append([]byte(nil), d.buf[:n]...)

	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	return
}
