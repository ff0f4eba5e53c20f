package service

import (
	"sort"
	"strings"

	"github.com/synapse-project/transport-core/domain/circuitbreaker"
	"github.com/synapse-project/transport-core/domain/model"
)

// PolicyName selects which scoring strategy the Manager uses.
type PolicyName int

const (
	Adaptive PolicyName = iota
	FirstAvailable
	LowestLatency
	HighestReliability
)

// AdaptiveWeights are the coefficients of the Adaptive policy's score:
// w_r·reliability − w_l·normalized_latency − w_c·cost + w_u·urgency_match.
type AdaptiveWeights struct {
	Reliability float64
	Latency     float64
	Cost        float64
	UrgencyMatch float64
}

// DefaultAdaptiveWeights favors reliability over raw latency: a reliable
// transport with a modest latency edge beats a fast but flaky one.
func DefaultAdaptiveWeights() AdaptiveWeights {
	return AdaptiveWeights{Reliability: 1.0, Latency: 0.4, Cost: 0.2, UrgencyMatch: 0.5}
}

// candidateMaxLatencyMs normalizes observed latency against a ceiling;
// values beyond it still normalize to 1.0 rather than growing unbounded.
const candidateMaxLatencyMs = 1000.0

// Candidate is one transport kind being scored for selection.
type Candidate struct {
	Kind         model.TransportKind
	Capabilities model.Capabilities
	Metrics      model.TransportMetrics
	BreakerState circuitbreaker.State
	RegisteredAt int // registration order, for FirstAvailable and tie-breaking
}

// SelectionPolicy maps (target, candidates) to an ordered attempt list.
type SelectionPolicy struct {
	name    PolicyName
	weights AdaptiveWeights
}

// NewSelectionPolicy builds a policy; weights is ignored unless name is Adaptive.
func NewSelectionPolicy(name PolicyName, weights AdaptiveWeights) *SelectionPolicy {
	return &SelectionPolicy{name: name, weights: weights}
}

// Order returns the filtered, ordered list of candidate kinds to attempt,
// best fit first. Capability filtering (size, required capabilities,
// address compatibility) is always applied before scoring.
func (p *SelectionPolicy) Order(target *model.TransportTarget, payloadSize int, candidates []Candidate) []model.TransportKind {
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.BreakerState == circuitbreaker.Open {
			continue
		}
		if !c.Capabilities.Fits(payloadSize) {
			continue
		}
		if target != nil && len(target.RequiredCapabilities) > 0 && !c.Capabilities.HasAll(target.RequiredCapabilities) {
			continue
		}
		if !addressCompatible(c.Kind, target) {
			continue
		}
		filtered = append(filtered, c)
	}

	switch p.name {
	case FirstAvailable:
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].RegisteredAt < filtered[j].RegisteredAt
		})
	case LowestLatency:
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].Metrics.AverageLatencyMs < filtered[j].Metrics.AverageLatencyMs
		})
	case HighestReliability:
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].Metrics.ReliabilityScore > filtered[j].Metrics.ReliabilityScore
		})
	default: // Adaptive
		weights := p.weights
		scored := make([]struct {
			c     Candidate
			score float64
		}, len(filtered))
		for i, c := range filtered {
			scored[i] = struct {
				c     Candidate
				score float64
			}{c: c, score: p.adaptiveScore(weights, target, c)}
		}
		sort.SliceStable(scored, func(i, j int) bool {
			if scored[i].score != scored[j].score {
				return scored[i].score > scored[j].score
			}
			if scored[i].c.Metrics.ReliabilityScore != scored[j].c.Metrics.ReliabilityScore {
				return scored[i].c.Metrics.ReliabilityScore > scored[j].c.Metrics.ReliabilityScore
			}
			if scored[i].c.Metrics.AverageLatencyMs != scored[j].c.Metrics.AverageLatencyMs {
				return scored[i].c.Metrics.AverageLatencyMs < scored[j].c.Metrics.AverageLatencyMs
			}
			return scored[i].c.Kind < scored[j].c.Kind
		})
		out := make([]model.TransportKind, len(scored))
		for i, s := range scored {
			out[i] = s.c.Kind
		}
		return out
	}

	out := make([]model.TransportKind, len(filtered))
	for i, c := range filtered {
		out[i] = c.Kind
	}
	return out
}

func (p *SelectionPolicy) adaptiveScore(w AdaptiveWeights, target *model.TransportTarget, c Candidate) float64 {
	normalizedLatency := c.Metrics.AverageLatencyMs / candidateMaxLatencyMs
	if normalizedLatency > 1 {
		normalizedLatency = 1
	}

	urgencyMatch := 0.0
	if target != nil {
		if c.Capabilities.SupportedUrgencies.Has(target.Urgency) {
			urgencyMatch = 1.0
		} else {
			// Kinds that don't match the requested urgency get a very
			// large negative bias so they sort last without being
			// excluded outright (HalfOpen probe traffic still needs a
			// reduced-rank slot).
			return -1e9
		}
	}

	score := w.Reliability*c.Metrics.ReliabilityScore - w.Latency*normalizedLatency - w.Cost*c.Capabilities.CostScore + w.UrgencyMatch*urgencyMatch

	if c.BreakerState == circuitbreaker.HalfOpen {
		score -= 0.5
	}
	return score
}

// addressCompatible rejects a candidate whose address hint is clearly the
// wrong shape for its wire protocol (a URL for TCP, a non-email address
// for Email). An address with no recognizable shape (or none at all) is
// never rejected here; the transport itself is the final arbiter.
func addressCompatible(kind model.TransportKind, target *model.TransportTarget) bool {
	if target == nil || target.Address == "" {
		return true
	}
	addr := target.Address
	switch kind {
	case model.Tcp, model.Udp, model.Quic:
		return !looksLikeURL(addr) && !looksLikeEmail(addr)
	case model.Http, model.WebSocket:
		return !looksLikeEmail(addr)
	case model.Email:
		return looksLikeEmail(addr)
	default: // Mdns and anything else: instance-name addressed, always compatible
		return true
	}
}

func looksLikeURL(addr string) bool {
	return strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") ||
		strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}

func looksLikeEmail(addr string) bool {
	if looksLikeURL(addr) {
		return false
	}
	at := strings.IndexByte(addr, '@')
	return at > 0 && at < len(addr)-1
}
