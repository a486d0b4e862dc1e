package query

import (
	"context"
	"time"

	"github.com/ghpulse/ghpulse/internal/ghevent"
)

// AnomalyType distinguishes a spike from a drop.
type AnomalyType string

const (
	AnomalySpike AnomalyType = "spike"
	AnomalyDrop  AnomalyType = "drop"
)

// Severity distinguishes how far past threshold an anomaly landed.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Anomaly is one entry of detect_event_anomalies's output.
type Anomaly struct {
	Kind       ghevent.Kind
	Type       AnomalyType
	Severity   Severity
	Threshold  float64
	Value      float64
	Confidence float64
	DetectedAt time.Time
}

// DetectAnomalies buckets each kind's activity into hourly counts over the
// window and flags spikes (count > mean+2*stdev) and drops (count <
// max(0, mean-2*stdev), only when mean > 5). Requires at least 3 buckets of
// data per kind; kinds with fewer yield no anomalies. The n=3 case is kept
// exactly as the source computes it even though stdev is noisy at that
// sample size (§9's open question — flagged, not "fixed").
func (e *Engine) DetectAnomalies(ctx context.Context, repo string, hours float64) ([]Anomaly, error) {
	since := e.now().Add(-durationHours(hours))
	buckets, err := e.store.EventCountsTimeseries(ctx, since, 60, repo)
	if err != nil {
		return nil, err
	}
	if len(buckets) < 3 {
		return nil, nil
	}

	type sample struct {
		value float64
		at    time.Time
	}
	perKind := make(map[ghevent.Kind][]sample, len(ghevent.All))
	for _, b := range buckets {
		for _, kind := range ghevent.All {
			perKind[kind] = append(perKind[kind], sample{value: float64(b.Counts[kind]), at: b.Start})
		}
	}

	var anomalies []Anomaly
	for _, kind := range ghevent.All {
		samples := perKind[kind]
		if len(samples) < 3 {
			continue
		}
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s.value
		}
		m, stdev := basicStats(values)

		spikeThreshold := m + 2*stdev
		severeThreshold := m + 3*stdev
		dropThreshold := m - 2*stdev
		if dropThreshold < 0 {
			dropThreshold = 0
		}

		for _, s := range samples {
			switch {
			case s.value > spikeThreshold:
				severity := SeverityMedium
				if s.value > severeThreshold {
					severity = SeverityHigh
				}
				anomalies = append(anomalies, Anomaly{
					Kind: kind, Type: AnomalySpike, Severity: severity,
					Threshold: spikeThreshold, Value: s.value, Confidence: 0.95, DetectedAt: s.at,
				})
			case m > 5 && s.value < dropThreshold:
				anomalies = append(anomalies, Anomaly{
					Kind: kind, Type: AnomalyDrop, Severity: SeverityMedium,
					Threshold: dropThreshold, Value: s.value, Confidence: 0.85, DetectedAt: s.at,
				})
			}
		}
	}
	return anomalies, nil
}
