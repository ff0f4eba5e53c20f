package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/synapse-project/transport-core/domain/circuitbreaker"
	"github.com/synapse-project/transport-core/domain/model"
)

func allUrgencies() model.UrgencySet {
	return model.NewUrgencySet(model.RealTime, model.Interactive, model.Background, model.Batch, model.Discovery)
}

func TestSelectionPolicy_AdaptivePrefersReliableOverFastButFlaky(t *testing.T) {
	policy := NewSelectionPolicy(Adaptive, DefaultAdaptiveWeights())

	target := &model.TransportTarget{Identifier: "peer@lan", Urgency: model.Interactive}
	candidates := []Candidate{
		{Kind: model.Udp, Capabilities: model.Capabilities{SupportedUrgencies: allUrgencies()}, Metrics: model.TransportMetrics{AverageLatencyMs: 10, ReliabilityScore: 0.6}},
		{Kind: model.Tcp, Capabilities: model.Capabilities{SupportedUrgencies: allUrgencies()}, Metrics: model.TransportMetrics{AverageLatencyMs: 25, ReliabilityScore: 0.95}},
		{Kind: model.Http, Capabilities: model.Capabilities{SupportedUrgencies: allUrgencies()}, Metrics: model.TransportMetrics{AverageLatencyMs: 150, ReliabilityScore: 0.99}},
	}

	order := policy.Order(target, 100, candidates)
	assert.Equal(t, model.Tcp, order[0])
}

func TestSelectionPolicy_ExcludesOpenBreaker(t *testing.T) {
	policy := NewSelectionPolicy(Adaptive, DefaultAdaptiveWeights())
	target := &model.TransportTarget{Urgency: model.Background}
	candidates := []Candidate{
		{Kind: model.Tcp, Capabilities: model.Capabilities{SupportedUrgencies: allUrgencies()}, BreakerState: circuitbreaker.Open},
		{Kind: model.Email, Capabilities: model.Capabilities{SupportedUrgencies: allUrgencies()}, BreakerState: circuitbreaker.Closed},
	}

	order := policy.Order(target, 100, candidates)
	assert.Equal(t, []model.TransportKind{model.Email}, order)
}

func TestSelectionPolicy_ExcludesOversizedPayload(t *testing.T) {
	policy := NewSelectionPolicy(FirstAvailable, AdaptiveWeights{})
	candidates := []Candidate{
		{Kind: model.Tcp, Capabilities: model.Capabilities{MaxMessageSize: 1024, SupportedUrgencies: allUrgencies()}},
	}

	order := policy.Order(nil, 2048, candidates)
	assert.Empty(t, order)
}

func TestSelectionPolicy_ExcludesMissingRequiredCapability(t *testing.T) {
	policy := NewSelectionPolicy(FirstAvailable, AdaptiveWeights{})
	target := &model.TransportTarget{RequiredCapabilities: model.NewCapabilitySet("low_latency")}
	candidates := []Candidate{
		{Kind: model.Tcp, Capabilities: model.Capabilities{FeatureTags: model.NewCapabilitySet("reliable")}},
		{Kind: model.Udp, Capabilities: model.Capabilities{FeatureTags: model.NewCapabilitySet("low_latency")}},
	}

	order := policy.Order(target, 0, candidates)
	assert.Equal(t, []model.TransportKind{model.Udp}, order)
}

func TestSelectionPolicy_IsPureFunctionOfInputs(t *testing.T) {
	policy := NewSelectionPolicy(Adaptive, DefaultAdaptiveWeights())
	target := &model.TransportTarget{Urgency: model.Batch}
	candidates := []Candidate{
		{Kind: model.Tcp, Capabilities: model.Capabilities{SupportedUrgencies: allUrgencies()}, Metrics: model.TransportMetrics{AverageLatencyMs: 30, ReliabilityScore: 0.8}},
		{Kind: model.Email, Capabilities: model.Capabilities{SupportedUrgencies: allUrgencies()}, Metrics: model.TransportMetrics{AverageLatencyMs: 5000, ReliabilityScore: 0.99}},
	}

	first := policy.Order(target, 10, candidates)
	second := policy.Order(target, 10, candidates)
	assert.Equal(t, first, second)
}

func TestSelectionPolicy_FiltersIncompatibleAddressShape(t *testing.T) {
	policy := NewSelectionPolicy(FirstAvailable, AdaptiveWeights{})
	target := &model.TransportTarget{Address: "peer@example.com"}
	candidates := []Candidate{
		{Kind: model.Tcp, Capabilities: model.Capabilities{}},
		{Kind: model.Email, Capabilities: model.Capabilities{}},
	}

	order := policy.Order(target, 0, candidates)
	assert.Equal(t, []model.TransportKind{model.Email}, order)
}
