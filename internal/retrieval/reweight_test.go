package retrieval

import (
	"math"
	"testing"
	"time"
)

func TestReweight_DisabledIsIdentity(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cfg := RecencyConfig{Enabled: false, TimeWeight: 0.9, DecayDays: 1}

	for _, score := range []float32{0, 0.25, 0.5, 0.99, 1} {
		got := Reweight(score, now.Add(-90*24*time.Hour), now, cfg)
		if got != score {
			t.Errorf("disabled reweight changed score %v to %v", score, got)
		}
	}
}

func TestReweight_Deterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ts := now.Add(-10 * 24 * time.Hour)
	cfg := RecencyConfig{Enabled: true, TimeWeight: 0.4, DecayDays: 7}

	first := Reweight(0.8, ts, now, cfg)
	second := Reweight(0.8, ts, now, cfg)
	if first != second {
		t.Errorf("same inputs produced different outputs: %v vs %v", first, second)
	}
}

func TestReweight_MissingTimestampGetsFullBoost(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cfg := RecencyConfig{Enabled: true, TimeWeight: 0.5, DecayDays: 7}

	// Unknown age is treated as current: timeScore = 1.
	got := Reweight(0.6, time.Time{}, now, cfg)
	want := float32(0.6*0.5 + 1.0*0.5)
	if math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("expected %v for zero timestamp, got %v", want, got)
	}
}

func TestReweight_OlderScoresLower(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cfg := RecencyConfig{Enabled: true, TimeWeight: 0.5, DecayDays: 7}

	fresh := Reweight(0.6, now, now, cfg)
	week := Reweight(0.6, now.Add(-7*24*time.Hour), now, cfg)
	month := Reweight(0.6, now.Add(-30*24*time.Hour), now, cfg)

	if !(fresh > week && week > month) {
		t.Errorf("expected monotone decay, got fresh=%v week=%v month=%v", fresh, week, month)
	}
}

func TestReweight_FutureTimestampClampedToZeroAge(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cfg := RecencyConfig{Enabled: true, TimeWeight: 0.5, DecayDays: 7}

	future := Reweight(0.6, now.Add(24*time.Hour), now, cfg)
	fresh := Reweight(0.6, now, now, cfg)
	if future != fresh {
		t.Errorf("future timestamp should score like a current one: %v vs %v", future, fresh)
	}
}

func TestReweight_ClampedToUnitInterval(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cfg := RecencyConfig{Enabled: true, TimeWeight: 0.5, DecayDays: 7}

	// A similarity score above 1 (some stores are not bounded) must still
	// produce a final score inside [0, 1].
	got := Reweight(1.8, now, now, cfg)
	if got < 0 || got > 1 {
		t.Errorf("expected clamped score, got %v", got)
	}
}
