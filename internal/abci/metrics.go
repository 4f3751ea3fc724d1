package abci

import (
	"sync/atomic"
	"time"
)

// Metrics counts adapter activity. All counters are monotonic and safe for
// concurrent use; the HTTP surface in the daemon serializes snapshots.
type Metrics struct {
	start time.Time

	txAccepted      atomic.Int64
	txRejected      atomic.Int64
	mempoolAccepted atomic.Int64
	mempoolRejected atomic.Int64
	blocksCommitted atomic.Int64
}

// MetricsSnapshot is one point-in-time reading.
type MetricsSnapshot struct {
	TxAccepted      int64         `json:"tx_accepted"`
	TxRejected      int64         `json:"tx_rejected"`
	MempoolAccepted int64         `json:"mempool_accepted"`
	MempoolRejected int64         `json:"mempool_rejected"`
	BlocksCommitted int64         `json:"blocks_committed"`
	Uptime          time.Duration `json:"uptime"`
}

// NewMetrics returns a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{start: time.Now()}
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TxAccepted:      m.txAccepted.Load(),
		TxRejected:      m.txRejected.Load(),
		MempoolAccepted: m.mempoolAccepted.Load(),
		MempoolRejected: m.mempoolRejected.Load(),
		BlocksCommitted: m.blocksCommitted.Load(),
		Uptime:          time.Since(m.start),
	}
}
