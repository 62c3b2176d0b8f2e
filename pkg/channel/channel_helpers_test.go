// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"net"
	"testing"
	"time"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
	"github.com/dtn7/orlink-go/pkg/transport"
)

var (
	initiatorIP = net.IPv4(192, 0, 2, 1)
	responderIP = net.IPv4(192, 0, 2, 2)
)

func newKeys(t *testing.T) *linkcrypto.KeySet {
	_, identity, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ks, err := linkcrypto.NewKeySet(identity, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return ks
}

// testConfig verifies inline, so that a single RunPending completes a handshake.
func testConfig(versions ...uint16) Config {
	conf := DefaultConfig()
	conf.Versions = versions
	conf.OffloadCrypto = false
	return conf
}

// recorder is a Handler remembering all calls.
type recorder struct {
	opened   []*Channel
	cells    []cell.Cell
	closed   []error
	writable int
}

func (r *recorder) OnOpen(ch *Channel)                { r.opened = append(r.opened, ch) }
func (r *recorder) OnCell(_ *Channel, c cell.Cell)    { r.cells = append(r.cells, c) }
func (r *recorder) OnClosed(_ *Channel, reason error) { r.closed = append(r.closed, reason) }
func (r *recorder) OnWritable(_ *Channel)             { r.writable++ }

// countingMetrics counts some of the Metrics calls.
type countingMetrics struct {
	NoopMetrics

	processed   int
	sent        int
	violations  int
	discarded   int
	opened      int
	closed      int
	congestions int
}

func (cm *countingMetrics) CellProcessed(cell.Command)            { cm.processed++ }
func (cm *countingMetrics) CellSent(cell.Command)                 { cm.sent++ }
func (cm *countingMetrics) ProtocolViolation()                    { cm.violations++ }
func (cm *countingMetrics) CellsDiscarded(n int)                  { cm.discarded += n }
func (cm *countingMetrics) ChannelOpened(linkcrypto.Role, uint16) { cm.opened++ }
func (cm *countingMetrics) ChannelClosed(linkerr.Kind, bool)      { cm.closed++ }
func (cm *countingMetrics) Congestion(congested bool) {
	if congested {
		cm.congestions++
	}
}

// side is one relay of a testbed.
type side struct {
	keys    *linkcrypto.KeySet
	manager *Manager
	rec     *recorder
	metrics *countingMetrics
}

func newSide(t *testing.T, loop *Loop, conf Config, suite func(*linkcrypto.KeySet) linkcrypto.Suite) *side {
	s := &side{
		keys:    newKeys(t),
		rec:     &recorder{},
		metrics: &countingMetrics{},
	}

	var cryptoSuite linkcrypto.Suite = s.keys
	if suite != nil {
		cryptoSuite = suite(s.keys)
	}
	s.manager = NewManager(conf, loop, cryptoSuite, s.rec, s.metrics)
	return s
}

func testExporter(label string, context []byte, length int) ([]byte, error) {
	sum := sha256.Sum256(append([]byte("session"+label), context...))
	return sum[:length], nil
}

// memoryLink creates a Transport pair between an initiator and a responder, seen at the given address.
func memoryLink(initiator, responder *side, responderAt net.IP) (initTr, respTr *transport.Memory) {
	return transport.NewMemoryPair(
		transport.PeerInfo{
			RemoteAddr: &net.TCPAddr{IP: responderAt, Port: 9001},
			CertDigest: responder.keys.LinkCertDigest(),
			Exporter:   testExporter,
		},
		transport.PeerInfo{
			RemoteAddr:      &net.TCPAddr{IP: initiatorIP, Port: 40000},
			LocalCertDigest: responder.keys.LinkCertDigest(),
			Exporter:        testExporter,
		})
}

// testbed is an initiator and a responder connected by one memory link on a shared Loop.
type testbed struct {
	loop *Loop

	init, resp     *side
	initTr, respTr *transport.Memory
	initCh, respCh *Channel
}

func newTestbed(t *testing.T, initConf, respConf Config) *testbed {
	tb := &testbed{loop: NewLoop()}

	respConf.AdvertisedAddrs = []net.IP{responderIP}

	tb.init = newSide(t, tb.loop, initConf, nil)
	tb.resp = newSide(t, tb.loop, respConf, nil)
	tb.connect(t)
	return tb
}

func (tb *testbed) connect(t *testing.T) {
	tb.initTr, tb.respTr = memoryLink(tb.init, tb.resp, responderIP)

	var err error
	if tb.initCh, err = tb.init.manager.OpenOutbound(tb.initTr, tb.resp.keys.Digest()); err != nil {
		t.Fatal(err)
	}
	if tb.respCh, err = tb.resp.manager.AcceptInbound(tb.respTr); err != nil {
		t.Fatal(err)
	}
}

// open runs the Loop until idle and expects both Channels to be open.
func (tb *testbed) open(t *testing.T) {
	tb.loop.RunPending()

	for _, ch := range []*Channel{tb.initCh, tb.respCh} {
		if ch.State() != Open {
			t.Fatalf("%v is in state %v, reason %v", ch, ch.State(), ch.Reason())
		}
	}
}

func relayCell(t *testing.T, circID uint32, payload string) cell.Cell {
	c, err := cell.NewFixed(circID, cell.RELAY, []byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// rawSink collects the bytes arriving at a transport end not driven by a Channel.
type rawSink struct {
	data []byte
	err  error
}

func (rs *rawSink) HandleRead(data []byte)         { rs.data = append(rs.data, data...) }
func (rs *rawSink) HandleWritable()                {}
func (rs *rawSink) HandleTransportError(err error) { rs.err = err }

// rawPeer is a responder Channel connected to a hand-driven initiator end.
type rawPeer struct {
	loop *Loop
	side *side
	raw  *transport.Memory
	sink *rawSink
	ch   *Channel
}

func newRawPeer(t *testing.T, conf Config) *rawPeer {
	rp := &rawPeer{loop: NewLoop(), sink: &rawSink{}}
	rp.side = newSide(t, rp.loop, conf, nil)

	var respTr *transport.Memory
	rp.raw, respTr = transport.NewMemoryPair(transport.PeerInfo{}, transport.PeerInfo{})
	rp.raw.Start(rp.sink, rp.loop.Post, 0)

	var err error
	if rp.ch, err = rp.side.manager.AcceptInbound(respTr); err != nil {
		t.Fatal(err)
	}
	return rp
}

// send encodes cells for the given link version and delivers them.
func (rp *rawPeer) send(t *testing.T, linkVersion uint16, cells ...cell.Cell) {
	for _, c := range cells {
		wire, err := cell.Encode(c, linkVersion)
		if err != nil {
			t.Fatal(err)
		}
		if err = rp.raw.Write(wire); err != nil {
			t.Fatal(err)
		}
	}
	rp.loop.RunPending()
}

func versionsCell(t *testing.T, versions ...uint16) cell.Cell {
	c, err := cell.NewVersions(versions)
	if err != nil {
		t.Fatal(err)
	}
	return c
}
