// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package prom

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

func TestChannelMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewChannelMetrics(reg)

	m.CellProcessed(cell.RELAY)
	m.CellProcessed(cell.RELAY)
	m.CellSent(cell.VERSIONS)
	m.ChannelOpened(linkcrypto.Initiator, 4)
	m.ChannelOpened(linkcrypto.Responder, 4)
	m.Congestion(true)
	m.ChannelClosed(linkerr.LocalClose, true)
	m.ChannelClosed(linkerr.ProtocolViolation, false)
	m.CellsDiscarded(5)
	m.ClockSkew(-2 * time.Hour)

	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"relay cells", testutil.ToFloat64(m.cellsProcessed.WithLabelValues("RELAY")), 2},
		{"sent versions", testutil.ToFloat64(m.cellsSent.WithLabelValues("VERSIONS")), 1},
		{"opened initiators", testutil.ToFloat64(m.opened.WithLabelValues("initiator", "4")), 1},
		{"open", testutil.ToFloat64(m.open), 1},
		{"congested", testutil.ToFloat64(m.congested), 1},
		{"closed violations", testutil.ToFloat64(m.closed.WithLabelValues("protocol violation")), 1},
		{"discarded", testutil.ToFloat64(m.discarded), 5},
	}
	for _, test := range tests {
		if test.got != test.expected {
			t.Fatalf("%s: got %v, expected %v", test.name, test.got, test.expected)
		}
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), "orlink_peer_clock_skew_seconds_count 1") {
		t.Fatalf("clock skew is missing from\n%s", body)
	}
}
