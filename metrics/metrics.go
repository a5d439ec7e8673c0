// Package metrics exposes Prometheus counters and gauges for the chain
// engine and controller, registered against the default registry so a
// single /metrics endpoint on the REST server serves them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BlocksAccepted counts blocks this node has inserted into a live
	// branch, whether self-produced or received from a peer.
	BlocksAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vaccination_chain_blocks_accepted_total",
		Help: "Total blocks accepted onto a live branch.",
	})

	// BlocksDangling counts blocks received whose parent was not yet
	// known.
	BlocksDangling = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vaccination_chain_blocks_dangling_total",
		Help: "Total blocks queued as dangling because their parent is unknown.",
	})

	// BranchesRelocatedDead counts subtrees moved to the dead-branch set
	// after a deny-quorum judgement.
	BranchesRelocatedDead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vaccination_chain_branches_dead_total",
		Help: "Total subtrees relocated to dead branches after a deny quorum.",
	})

	// JudgementsEmitted counts judgements this node has signed and
	// broadcast, labeled by the accept/deny verdict.
	JudgementsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vaccination_chain_judgements_emitted_total",
		Help: "Judgements this node has signed and broadcast, by verdict.",
	}, []string{"verdict"})

	// MempoolSize reports the current number of pending transactions.
	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vaccination_chain_mempool_size",
		Help: "Current number of pending transactions in the mempool.",
	})

	// PeerCount reports the current number of connected peers.
	PeerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vaccination_chain_peer_count",
		Help: "Current number of connected peers.",
	})
)

func init() {
	prometheus.MustRegister(
		BlocksAccepted,
		BlocksDangling,
		BranchesRelocatedDead,
		JudgementsEmitted,
		MempoolSize,
		PeerCount,
	)
}
