// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cell

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Address types of a NETINFO address TLV.
const (
	AddrTypeIPv4 uint8 = 0x04
	AddrTypeIPv6 uint8 = 0x06
)

// Netinfo is the payload of a NETINFO cell.
type Netinfo struct {
	// Timestamp of the sender, seconds since the epoch. Clients send zero.
	Timestamp uint32

	// OtherAddr is the address the sender sees its peer at. It might be nil for unsupported address types.
	OtherAddr net.IP

	// MyAddrs are the sender's own public addresses.
	MyAddrs []net.IP
}

// NewNetinfo for the current time.
func NewNetinfo(now time.Time, otherAddr net.IP, myAddrs []net.IP) Netinfo {
	return Netinfo{
		Timestamp: uint32(now.Unix()),
		OtherAddr: otherAddr,
		MyAddrs:   myAddrs,
	}
}

// Time of this Netinfo's Timestamp.
func (ni Netinfo) Time() time.Time {
	return time.Unix(int64(ni.Timestamp), 0)
}

func (ni Netinfo) String() string {
	return fmt.Sprintf("NETINFO(time=%d, other=%v, my=%v)", ni.Timestamp, ni.OtherAddr, ni.MyAddrs)
}

func writeAddr(buf *bytes.Buffer, ip net.IP) error {
	if ip4 := ip.To4(); ip4 != nil {
		buf.WriteByte(AddrTypeIPv4)
		buf.WriteByte(net.IPv4len)
		buf.Write(ip4)
	} else if ip16 := ip.To16(); ip16 != nil {
		buf.WriteByte(AddrTypeIPv6)
		buf.WriteByte(net.IPv6len)
		buf.Write(ip16)
	} else {
		return fmt.Errorf("invalid address %v", ip)
	}
	return nil
}

func readAddr(r *bytes.Reader) (ip net.IP, err error) {
	var hdr [2]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return
	}

	val := make([]byte, hdr[1])
	if _, err = io.ReadFull(r, val); err != nil {
		return
	}

	switch {
	case hdr[0] == AddrTypeIPv4 && len(val) == net.IPv4len:
		ip = net.IP(val).To16()
	case hdr[0] == AddrTypeIPv6 && len(val) == net.IPv6len:
		ip = net.IP(val)
	default:
		// Unknown address types are skipped.
	}
	return
}

// Cell creates a fixed NETINFO cell from this Netinfo.
func (ni Netinfo) Cell() (c Cell, err error) {
	var buf bytes.Buffer

	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], ni.Timestamp)
	buf.Write(ts[:])

	if ni.OtherAddr == nil {
		// An empty IPv4 TLV; NETINFO has no way to express the absence of OTHERADDR.
		buf.Write([]byte{AddrTypeIPv4, net.IPv4len, 0, 0, 0, 0})
	} else if err = writeAddr(&buf, ni.OtherAddr); err != nil {
		return
	}

	if len(ni.MyAddrs) > 0xFF {
		err = fmt.Errorf("too many addresses: %d", len(ni.MyAddrs))
		return
	}
	buf.WriteByte(uint8(len(ni.MyAddrs)))
	for _, ip := range ni.MyAddrs {
		if err = writeAddr(&buf, ip); err != nil {
			return
		}
	}

	return NewFixed(0, NETINFO, buf.Bytes())
}

// ParseNetinfo reads the payload of a NETINFO cell. Trailing padding is ignored.
func ParseNetinfo(c Cell) (ni Netinfo, err error) {
	if c.Command != NETINFO {
		err = fmt.Errorf("expected NETINFO, got %v", c.Command)
		return
	}

	r := bytes.NewReader(c.Payload)

	if err = binary.Read(r, binary.BigEndian, &ni.Timestamp); err != nil {
		err = fmt.Errorf("NETINFO timestamp: %w", err)
		return
	}

	if ni.OtherAddr, err = readAddr(r); err != nil {
		err = fmt.Errorf("NETINFO OTHERADDR: %w", err)
		return
	}

	var n uint8
	if n, err = r.ReadByte(); err != nil {
		err = fmt.Errorf("NETINFO NMYADDR: %w", err)
		return
	}

	for i := uint8(0); i < n; i++ {
		var ip net.IP
		if ip, err = readAddr(r); err != nil {
			err = fmt.Errorf("NETINFO MYADDR %d: %w", i, err)
			return
		} else if ip != nil {
			ni.MyAddrs = append(ni.MyAddrs, ip)
		}
	}
	return
}
