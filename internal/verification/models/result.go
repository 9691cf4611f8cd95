package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"geoverify/internal/risk"
)

// ResultStatus is the outcome reported to the recipient and the issuer.
type ResultStatus string

const (
	ResultLocationVerified    ResultStatus = "location_verified"
	ResultLocationNotVerified ResultStatus = "location_not_verified"
	ResultDeclined            ResultStatus = "declined"
	ResultError               ResultStatus = "error"
)

// DeclinedRiskScore is the fixed score of a declined verification.
const DeclinedRiskScore = 1.0

// Result is produced once and persisted with the consuming transition.
type Result struct {
	VerificationID       uuid.UUID    `json:"verification_id"`
	Status               ResultStatus `json:"status"`
	DistanceMeters       *float64     `json:"distance_meters"`
	RiskScore            float64      `json:"risk_score"`
	AccuracyMeters       *float64     `json:"accuracy_meters,omitempty"`
	ThresholdMeters      float64      `json:"threshold_meters,omitempty"`
	RequiresManualReview bool         `json:"requires_manual_review"`
	Signals              []string     `json:"signals,omitempty"`
	Message              string       `json:"message"`
	DecidedAt            time.Time    `json:"decided_at"`
}

// NewDeclinedResult is the result of a refused consent.
func NewDeclinedResult(verificationID uuid.UUID, now time.Time) *Result {
	return &Result{
		VerificationID:       verificationID,
		Status:               ResultDeclined,
		RiskScore:            DeclinedRiskScore,
		RequiresManualReview: true,
		Message:              "The recipient declined to share their location.",
		DecidedAt:            now,
	}
}

// NewScoredResult converts a risk assessment into a result.
func NewScoredResult(verificationID uuid.UUID, distance *float64, accuracy float64, a risk.Assessment, now time.Time) *Result {
	status := ResultLocationNotVerified
	if a.Verdict == risk.VerdictLocationVerified {
		status = ResultLocationVerified
	}
	signals := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		signals = append(signals, string(s))
	}
	acc := accuracy
	return &Result{
		VerificationID:       verificationID,
		Status:               status,
		DistanceMeters:       distance,
		RiskScore:            a.Score,
		AccuracyMeters:       &acc,
		ThresholdMeters:      a.ThresholdMeters,
		RequiresManualReview: a.RequiresManualReview(),
		Signals:              signals,
		Message:              resultMessage(status, distance),
		DecidedAt:            now,
	}
}

func resultMessage(status ResultStatus, distance *float64) string {
	switch {
	case distance == nil:
		return "Manual verification required: the claimed address could not be located."
	case status == ResultLocationVerified:
		return fmt.Sprintf("Address verification successful. Device is within %.0fm of the claimed address.", *distance)
	default:
		return fmt.Sprintf("Manual review required. Device is %.0fm from the claimed address.", *distance)
	}
}

// Clone deep-copies the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.DistanceMeters != nil {
		d := *r.DistanceMeters
		c.DistanceMeters = &d
	}
	if r.AccuracyMeters != nil {
		a := *r.AccuracyMeters
		c.AccuracyMeters = &a
	}
	if r.Signals != nil {
		c.Signals = append([]string(nil), r.Signals...)
	}
	return &c
}
