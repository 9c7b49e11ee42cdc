package provider

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const mockImageURL = "https://aaxr3zh5x0.ufs.sh/f/VKo1Weu7HOuKcjeODcnb2YoPNKSWxHC78qjQ4VZF5nRkBDs9"

// MockProvider simulates an image provider with a fixed latency and a
// configurable failure rate. It exercises the orchestrator's concurrency
// and partial-failure handling without any external calls.
type MockProvider struct {
	name        string
	delay       time.Duration
	failureRate float64
	randFloat   func() float64
}

// NewMockProvider builds a mock with the default 10% failure rate.
func NewMockProvider(name string, delay time.Duration) *MockProvider {
	return &MockProvider{
		name:        name,
		delay:       delay,
		failureRate: 0.1,
		randFloat:   rand.Float64,
	}
}

// WithFailureRate overrides the failure probability. Tests use 0 or 1 to
// force deterministic outcomes.
func (p *MockProvider) WithFailureRate(rate float64) *MockProvider {
	p.failureRate = rate
	return p
}

// GenerateImage waits out the simulated latency, then succeeds with a
// canned URL or fails with a synthetic unavailability message.
func (p *MockProvider) GenerateImage(ctx context.Context, _ string) Result {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return failure(fmt.Sprintf("mock %s canceled: %v", p.name, ctx.Err()))
	}
	if p.randFloat() < p.failureRate {
		return failure(fmt.Sprintf("mock %s service temporarily unavailable", p.name))
	}
	return success(mockImageURL)
}

// Name returns the simulated provider name.
func (p *MockProvider) Name() string {
	return p.name
}
