// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package prom exports channel metrics to Prometheus.
package prom

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dtn7/orlink-go/pkg/cell"
	"github.com/dtn7/orlink-go/pkg/channel"
	"github.com/dtn7/orlink-go/pkg/linkcrypto"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ChannelMetrics implements channel.Metrics.
type ChannelMetrics struct {
	cellsProcessed *prometheus.CounterVec
	cellsSent      *prometheus.CounterVec
	violations     prometheus.Counter
	opened         *prometheus.CounterVec
	closed         *prometheus.CounterVec
	open           prometheus.Gauge
	discarded      prometheus.Counter
	clockSkew      prometheus.Histogram
	congested      prometheus.Gauge
	congestions    prometheus.Counter
}

var _ channel.Metrics = (*ChannelMetrics)(nil)

// NewChannelMetrics registers channel metrics on the registry.
func NewChannelMetrics(reg prometheus.Registerer) *ChannelMetrics {
	m := &ChannelMetrics{
		cellsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orlink_cells_processed_total",
			Help: "Received cells by command.",
		}, []string{"command"}),
		cellsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orlink_cells_sent_total",
			Help: "Cells written to transports by command.",
		}, []string{"command"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orlink_protocol_violations_total",
			Help: "Dropped cells and channels failed by protocol violations.",
		}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orlink_channels_opened_total",
			Help: "Completed handshakes by role and link protocol version.",
		}, []string{"role", "version"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orlink_channels_closed_total",
			Help: "Closed channels by reason.",
		}, []string{"reason"}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orlink_channels_open",
			Help: "Currently open channels.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orlink_cells_discarded_total",
			Help: "Queued cells discarded when closing channels.",
		}),
		clockSkew: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orlink_peer_clock_skew_seconds",
			Help:    "Absolute clock skew of peers as reported by NETINFO.",
			Buckets: []float64{1, 10, 60, 600, 3600, 86400},
		}),
		congested: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orlink_channels_congested",
			Help: "Currently congested channels.",
		}),
		congestions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orlink_congestions_total",
			Help: "Transitions of channels into congestion.",
		}),
	}
	reg.MustRegister(
		m.cellsProcessed,
		m.cellsSent,
		m.violations,
		m.opened,
		m.closed,
		m.open,
		m.discarded,
		m.clockSkew,
		m.congested,
		m.congestions,
	)
	return m
}

func (m *ChannelMetrics) CellProcessed(cmd cell.Command) {
	m.cellsProcessed.WithLabelValues(cmd.String()).Inc()
}

func (m *ChannelMetrics) CellSent(cmd cell.Command) {
	m.cellsSent.WithLabelValues(cmd.String()).Inc()
}

func (m *ChannelMetrics) ProtocolViolation() {
	m.violations.Inc()
}

func (m *ChannelMetrics) ChannelOpened(role linkcrypto.Role, linkVersion uint16) {
	m.opened.WithLabelValues(role.String(), strconv.FormatUint(uint64(linkVersion), 10)).Inc()
	m.open.Inc()
}

func (m *ChannelMetrics) ChannelClosed(kind linkerr.Kind, wasOpen bool) {
	m.closed.WithLabelValues(kind.String()).Inc()
	if wasOpen {
		m.open.Dec()
	}
}

func (m *ChannelMetrics) CellsDiscarded(n int) {
	m.discarded.Add(float64(n))
}

func (m *ChannelMetrics) ClockSkew(skew time.Duration) {
	if skew < 0 {
		skew = -skew
	}
	m.clockSkew.Observe(skew.Seconds())
}

func (m *ChannelMetrics) Congestion(congested bool) {
	if congested {
		m.congested.Inc()
		m.congestions.Inc()
	} else {
		m.congested.Dec()
	}
}
