// Package stats provides the running-statistics service that every
// adaptive threshold in the engine consults instead of a hardcoded
// constant.
//
// Four Welford accumulators track activation, confidence, error and path
// length; a handful of ingest/node/edge counters back the derived
// "graph_maturity" and "graph_connectivity_factor" factors. All updates
// are O(1) and numerically stable; nothing here is ever reset.
package stats

import "math"

// Stream identifies one of the four tracked quantities.
type Stream int

const (
	StreamActivation Stream = iota
	StreamConfidence
	StreamError
	StreamPathLength
	numStreams
)

// welford holds the three running moments of Welford's online algorithm.
type welford struct {
	count int64
	mean  float64
	m2    float64
}

func (w *welford) update(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

func (w *welford) variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count)
}

func (w *welford) stddev() float64 {
	return math.Sqrt(w.variance())
}

// Bootstrap holds the configured fallback values returned while a stream
// has fewer than BootstrapCount samples.
type Bootstrap struct {
	Mean   float64
	StdDev float64
}

// DefaultBootstraps returns sensible bootstrap defaults for all four
// streams, matching the engine's [0,1]-normalised activation/confidence/
// error ranges and a conservative initial path-length guess.
func DefaultBootstraps() [4]Bootstrap {
	return [4]Bootstrap{
		StreamActivation: {Mean: 0.5, StdDev: 0.25},
		StreamConfidence: {Mean: 0.5, StdDev: 0.25},
		StreamError:      {Mean: 0.5, StdDev: 0.25},
		StreamPathLength: {Mean: 4, StdDev: 2},
	}
}

// Service is the graph-wide running-statistics accumulator. It is not
// safe for concurrent use by itself; the engine serialises all access
// behind its single ingest lock (spec.md §5).
type Service struct {
	bootstrapCount int64
	bootstraps     [4]Bootstrap
	streams        [numStreams]welford

	ingests     int64
	nodesLive   int64
	edgesLive   int64
}

// New creates a running-statistics service. bootstrapCount is the
// minimum sample count (per stream) before adaptive formulas stop
// returning the configured bootstrap defaults.
func New(bootstrapCount int64, bootstraps [4]Bootstrap) *Service {
	if bootstrapCount < 1 {
		bootstrapCount = 1
	}
	return &Service{bootstrapCount: bootstrapCount, bootstraps: bootstraps}
}

// Update records a new sample on the given stream.
func (s *Service) Update(stream Stream, x float64) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		// Numerical errors are contained: never allowed into the
		// accumulator's running moments.
		return
	}
	s.streams[stream].update(x)
}

// Count returns the number of samples recorded for stream.
func (s *Service) Count(stream Stream) int64 {
	return s.streams[stream].count
}

// Mean returns the running mean for stream, or the bootstrap default
// while count < bootstrapCount.
func (s *Service) Mean(stream Stream) float64 {
	if s.streams[stream].count < s.bootstrapCount {
		return s.bootstraps[stream].Mean
	}
	return s.streams[stream].mean
}

// StdDev returns the running standard deviation for stream, or the
// bootstrap default while count < bootstrapCount.
func (s *Service) StdDev(stream Stream) float64 {
	if s.streams[stream].count < s.bootstrapCount {
		return s.bootstraps[stream].StdDev
	}
	return s.streams[stream].stddev()
}

// Percentile approximates the p-th percentile (p in (0,1)) of stream
// from mean ± z(p)·stddev, where z is the inverse standard normal CDF.
func (s *Service) Percentile(stream Stream, p float64) float64 {
	if p <= 0 {
		p = 1e-6
	}
	if p >= 1 {
		p = 1 - 1e-6
	}
	z := math.Sqrt2 * math.Erfinv(2*p-1)
	return s.Mean(stream) + z*s.StdDev(stream)
}

// RecordIngest increments the total-ingest counter, used by GraphMaturity.
func (s *Service) RecordIngest() {
	s.ingests++
}

// SetGraphSize tells the service the current live node/edge counts, used
// by GraphConnectivityFactor. Called by the graph store after each
// structural mutation.
func (s *Service) SetGraphSize(nodes, edges int64) {
	s.nodesLive = nodes
	s.edgesLive = edges
}

// GraphMaturity returns a value in [0,1) that saturates as the total
// number of ingests grows: maturity = n / (n + k). Young graphs commit
// conservatively; mature graphs commit with more confidence.
func (s *Service) GraphMaturity() float64 {
	return Maturity(float64(s.ingests), 50)
}

// Maturity is the pure saturating-growth formula shared by every
// maturity-like quantity in the engine (graph maturity, per-edge weight
// maturity in pkg/hebbian): n / (n + k).
func Maturity(n, k float64) float64 {
	if n < 0 {
		n = 0
	}
	return n / (n + k)
}

// GraphConnectivityFactor returns the average out-degree of the graph,
// normalised into a small multiplicative factor around 1.0. Sparse graphs
// get a sub-1 factor (conservative neighbour sampling); dense graphs get
// a mildly super-1 factor.
func (s *Service) GraphConnectivityFactor() float64 {
	if s.nodesLive == 0 {
		return 1
	}
	avgDegree := float64(s.edgesLive) / float64(s.nodesLive)
	// clip to keep the factor in a sane [0.5, 2] band regardless of
	// transient spikes in avgDegree during bulk ingestion.
	factor := 0.5 + avgDegree/4
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 2 {
		factor = 2
	}
	return factor
}

// Snapshot is an immutable, pure-data view of the running statistics,
// consumed by pkg/thresholds. Every thresholds function is a mapping
// from Snapshot (plus local scalar arguments) to a number — it must
// depend on nothing else (spec.md §4.8).
type Snapshot struct {
	BootstrapCount int64

	ActivationMean, ActivationStdDev     float64
	ConfidenceMean, ConfidenceStdDev     float64
	ErrorMean, ErrorStdDev               float64
	PathMean, PathStdDev                 float64

	GraphMaturity           float64
	GraphConnectivityFactor float64
}

// RawMoments exposes a stream's Welford accumulator exactly as held, so
// pkg/storage can persist it and resume updates bit-for-bit where a prior
// process left off rather than merely approximating mean/stddev.
func (s *Service) RawMoments(stream Stream) (count int64, mean, m2 float64) {
	w := &s.streams[stream]
	return w.count, w.mean, w.m2
}

// RestoreMoments overwrites a stream's accumulator with previously
// persisted moments. Used only while loading a saved graph, before any
// new samples are recorded.
func (s *Service) RestoreMoments(stream Stream, count int64, mean, m2 float64) {
	s.streams[stream] = welford{count: count, mean: mean, m2: m2}
}

// Ingests returns the total number of RecordIngest calls observed.
func (s *Service) Ingests() int64 { return s.ingests }

// RestoreIngests overwrites the ingest counter with a previously
// persisted value.
func (s *Service) RestoreIngests(n int64) { s.ingests = n }

// Snapshot captures the current statistics as an immutable value.
func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		BootstrapCount:          s.bootstrapCount,
		ActivationMean:          s.Mean(StreamActivation),
		ActivationStdDev:        s.StdDev(StreamActivation),
		ConfidenceMean:          s.Mean(StreamConfidence),
		ConfidenceStdDev:        s.StdDev(StreamConfidence),
		ErrorMean:               s.Mean(StreamError),
		ErrorStdDev:             s.StdDev(StreamError),
		PathMean:                s.Mean(StreamPathLength),
		PathStdDev:              s.StdDev(StreamPathLength),
		GraphMaturity:           s.GraphMaturity(),
		GraphConnectivityFactor: s.GraphConnectivityFactor(),
	}
}
