// Copyright 2026 The GateKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Get meter from global meter provider
	// In production, configure a proper meter provider with exporters
	meter := otel.Meter(serviceName)

	return &Meter{
		meter: meter,
	}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// AuthMetrics bundles the counters emitted by the authentication and
// authorization services. Counters are no-ops when OTel is disabled.
type AuthMetrics struct {
	LoginFailures      metric.Int64Counter
	ResetEmailFailures metric.Int64Counter
	TokenRotations     metric.Int64Counter
	ReuseDetections    metric.Int64Counter
	DecisionsDenied    metric.Int64Counter
}

// NewAuthMetrics registers the domain counters on the meter
func NewAuthMetrics(m *Meter) (*AuthMetrics, error) {
	loginFailures, err := m.CreateCounter("auth_login_failures_total", "Failed password authentication attempts")
	if err != nil {
		return nil, err
	}
	resetEmailFailures, err := m.CreateCounter("auth_reset_email_failures_total", "Password reset emails that failed to send (swallowed)")
	if err != nil {
		return nil, err
	}
	tokenRotations, err := m.CreateCounter("auth_refresh_rotations_total", "Successful refresh token rotations")
	if err != nil {
		return nil, err
	}
	reuseDetections, err := m.CreateCounter("auth_refresh_reuse_detections_total", "Refresh token reuse events triggering family revocation")
	if err != nil {
		return nil, err
	}
	decisionsDenied, err := m.CreateCounter("authz_decisions_denied_total", "Authorization checks that resulted in a deny")
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		LoginFailures:      loginFailures,
		ResetEmailFailures: resetEmailFailures,
		TokenRotations:     tokenRotations,
		ReuseDetections:    reuseDetections,
		DecisionsDenied:    decisionsDenied,
	}, nil
}
