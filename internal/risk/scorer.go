// Package risk turns a distance and a location fix into a bounded risk score.
//
// The policy is a fixed, explainable heuristic:
//
//	T = max(150m, 3 × accuracy)
//	d ≤ T  → location_verified,     risk = clamp(d/T, 0, 1) × 0.3
//	d > T  → location_not_verified, risk = clamp(0.3 + (d−T)/(10T), 0.3, 1)
//	no d   → location_not_verified, risk = 0.5
//	accuracy > 1000m adds a flat 0.2 (capped at 1)
//
// For a fixed accuracy the score is non-decreasing in distance.
package risk

import (
	"math"

	"github.com/mssola/useragent"
)

// Verdict is the location outcome of a scored submission.
type Verdict string

const (
	VerdictLocationVerified    Verdict = "location_verified"
	VerdictLocationNotVerified Verdict = "location_not_verified"
)

const (
	minThresholdMeters    = 150.0
	accuracyMultiplier    = 3.0
	nearBandCeiling       = 0.3
	farBandSpread         = 10.0
	indeterminateScore    = 0.5
	coarseFixMeters       = 1000.0
	coarseFixPenalty      = 0.2
	manualReviewThreshold = 0.6
	maxScore              = 1.0
	minScore              = 0.0
)

// Signal names an observation that contributed to, or annotates, a score.
type Signal string

const (
	SignalNoClaimedCoordinate Signal = "no_claimed_coordinate"
	SignalWithinThreshold     Signal = "within_threshold"
	SignalBeyondThreshold     Signal = "beyond_threshold"
	SignalCoarseFix           Signal = "coarse_location_fix"
	SignalMissingUserAgent    Signal = "missing_user_agent"
	SignalMissingTimezone     Signal = "missing_timezone"
	SignalAutomatedAgent      Signal = "automated_user_agent"
	SignalMobileDevice        Signal = "mobile_device"
)

// DeviceContext carries browser-reported metadata. It annotates the
// assessment and never identifies the person.
type DeviceContext struct {
	UserAgent        string
	ScreenResolution string
	Timezone         string
}

// Assessment is the scorer output.
type Assessment struct {
	Score           float64
	Verdict         Verdict
	ThresholdMeters float64
	Signals         []Signal
}

// RequiresManualReview flags scores an operator should look at.
func (a Assessment) RequiresManualReview() bool {
	return a.Score > manualReviewThreshold
}

// Threshold returns the effective verification radius for a fix accuracy.
func Threshold(accuracyMeters float64) float64 {
	if math.IsNaN(accuracyMeters) || accuracyMeters < 0 {
		accuracyMeters = 0
	}
	return math.Max(minThresholdMeters, accuracyMultiplier*accuracyMeters)
}

// Score applies the policy. distanceMeters is nil when the claimed address
// has no coordinate.
func Score(distanceMeters *float64, accuracyMeters float64, device DeviceContext) Assessment {
	t := Threshold(accuracyMeters)
	a := Assessment{ThresholdMeters: t}

	switch {
	case distanceMeters == nil:
		a.Score = indeterminateScore
		a.Verdict = VerdictLocationNotVerified
		a.Signals = append(a.Signals, SignalNoClaimedCoordinate)
	case *distanceMeters <= t:
		a.Score = clamp(*distanceMeters/t, 0, 1) * nearBandCeiling
		a.Verdict = VerdictLocationVerified
		a.Signals = append(a.Signals, SignalWithinThreshold)
	default:
		a.Score = clamp(nearBandCeiling+(*distanceMeters-t)/(farBandSpread*t), nearBandCeiling, maxScore)
		a.Verdict = VerdictLocationNotVerified
		a.Signals = append(a.Signals, SignalBeyondThreshold)
	}

	if accuracyMeters > coarseFixMeters {
		a.Score = math.Min(maxScore, a.Score+coarseFixPenalty)
		a.Signals = append(a.Signals, SignalCoarseFix)
	}

	a.Signals = append(a.Signals, device.signals()...)
	a.Score = clamp(a.Score, minScore, maxScore)
	return a
}

// signals never move the score. A crawler user agent only tells the
// reviewer the fix probably did not come from a phone in someone's hand.
func (d DeviceContext) signals() []Signal {
	var out []Signal
	if d.UserAgent == "" {
		out = append(out, SignalMissingUserAgent)
	} else {
		ua := useragent.New(d.UserAgent)
		switch {
		case ua.Bot():
			out = append(out, SignalAutomatedAgent)
		case ua.Mobile():
			out = append(out, SignalMobileDevice)
		}
	}
	if d.Timezone == "" {
		out = append(out, SignalMissingTimezone)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
