package models

import (
	"time"

	"github.com/google/uuid"

	id "geoverify/pkg/domain"
)

// ResultEvent notifies the issuing party that a token reached a final
// outcome. It carries no recipient contact data.
type ResultEvent struct {
	VerificationID uuid.UUID    `json:"verification_id"`
	TokenPrefix    string       `json:"token_prefix"`
	IssuedBy       id.Principal `json:"issued_by"`
	TokenStatus    Status       `json:"token_status"`
	Result         *Result      `json:"result,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// NewResultEvent builds the event for a token that was just finalized.
func NewResultEvent(t *Token, now time.Time) ResultEvent {
	return ResultEvent{
		VerificationID: t.ID.VerificationID(),
		TokenPrefix:    t.ID.Short(),
		IssuedBy:       t.IssuedBy,
		TokenStatus:    t.Status,
		Result:         t.Result.Clone(),
		OccurredAt:     now,
	}
}
