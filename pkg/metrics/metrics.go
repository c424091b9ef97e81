// Package metrics exposes prometheus counters for the scan engine. The
// collectors are registered on the default registry; embedding programs
// decide whether and where to serve them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailscan_records_processed_total",
		Help: "Messages pulled from the source and run through normalization",
	})

	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailscan_records_skipped_total",
		Help: "Messages dropped because no sender address could be extracted",
	})

	Checkpoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailscan_checkpoints_total",
		Help: "Checkpoint merges committed",
	})

	SendersInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailscan_senders_inserted_total",
		Help: "New sender rows appended to the store",
	})

	SendersUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailscan_senders_updated_total",
		Help: "Existing sender rows merged in place",
	})

	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailscan_cycles_total",
		Help: "Scan cycles by outcome",
	}, []string{"outcome"})

	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailscan_fetch_errors_total",
		Help: "Source page fetches that failed",
	})

	CursorPosition = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailscan_cursor_position",
		Help: "Last committed resumption cursor",
	})
)

// Cycle outcomes for the Cycles counter.
const (
	OutcomeDone   = "done"
	OutcomeBudget = "budget"
	OutcomeError  = "error"
)
