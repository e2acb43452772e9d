package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative count of connections since process start
	ClosedConns atomic.Int64 // cumulative count of closed connections since process start
	BytesSent   atomic.Int64 // cumulative encoded bytes written to any socket or channel
	BytesRecv   atomic.Int64 // cumulative encoded bytes read from any socket or channel
	Relayed     atomic.Int64 // cumulative messages fanned out by an authority
	Dropped     atomic.Int64 // cumulative inbound messages dropped as malformed or rejected
}

func (s *stats) AddConn()         { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()      { s.ClosedConns.Add(1) }
func (s *stats) AddSent(n int)    { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)    { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddRelayed(n int) { s.Relayed.Add(int64(n)) }
func (s *stats) AddDropped()      { s.Dropped.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Prometheus export
// ──────────────────────────────────────────────────────────────────────────────

var (
	connsOpenedDesc = prometheus.NewDesc("worldlink_connections_opened_total", "Connections opened since process start.", nil, nil)
	connsClosedDesc = prometheus.NewDesc("worldlink_connections_closed_total", "Connections closed since process start.", nil, nil)
	bytesDesc       = prometheus.NewDesc("worldlink_bytes_total", "Encoded bytes moved, by direction.", []string{"direction"}, nil)
	relayedDesc     = prometheus.NewDesc("worldlink_messages_relayed_total", "Messages fanned out to other parties.", nil, nil)
	droppedDesc     = prometheus.NewDesc("worldlink_messages_dropped_total", "Inbound messages dropped.", nil, nil)
)

// Describe implements prometheus.Collector.
func (s *stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- connsOpenedDesc
	ch <- connsClosedDesc
	ch <- bytesDesc
	ch <- relayedDesc
	ch <- droppedDesc
}

// Collect implements prometheus.Collector.
func (s *stats) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(connsOpenedDesc, prometheus.CounterValue, float64(s.TotalConns.Load()))
	ch <- prometheus.MustNewConstMetric(connsClosedDesc, prometheus.CounterValue, float64(s.ClosedConns.Load()))
	ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(s.BytesSent.Load()), "sent")
	ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(s.BytesRecv.Load()), "recv")
	ch <- prometheus.MustNewConstMetric(relayedDesc, prometheus.CounterValue, float64(s.Relayed.Load()))
	ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(s.Dropped.Load()))
}

// NewRegistry returns a registry exposing Stats alongside the Go runtime
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(Stats)
	reg.MustRegister(prometheus.NewGoCollector())
	return reg
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevTotal, prevClosed int64
		for {
			select {
			case <-ticker.C:
				total := Stats.TotalConns.Load()
				closed := Stats.ClosedConns.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				inC := total - prevTotal
				outC := closed - prevClosed

				if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inC, outC))
				}

				prevSent = sent
				prevRecv = recv
				prevTotal = total
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// keeps "100.0 KiB" from overflowing to 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporter line.
func formatStats(inS, outS float64, inC, outC int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Conn: %2d↑ %2d↓ | Relayed: %d",
		formatBytes(inS),
		formatBytes(outS),
		inC,
		outC,
		Stats.Relayed.Load(),
	)
}
