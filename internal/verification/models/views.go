package models

import (
	"time"

	id "geoverify/pkg/domain"
)

// RecipientSummary is what the recipient's page may show. It never carries
// token internals.
type RecipientSummary struct {
	FullName         string `json:"fullName"`
	Address          string `json:"address"`
	OrganizationName string `json:"organizationName,omitempty"`
}

func NewRecipientSummary(r Recipient) RecipientSummary {
	return RecipientSummary{
		FullName:         r.FullName,
		Address:          r.FullAddress(),
		OrganizationName: r.OrganizationName,
	}
}

// IssueResult is returned once to the issuing party.
type IssueResult struct {
	TokenID         id.TokenID
	VerificationURL string
	Recipient       Recipient
	ExpiresAt       time.Time
	ExpiresIn       time.Duration
	Geocoded        bool
}

// ValidateResult is returned when a link is opened.
type ValidateResult struct {
	Recipient RecipientSummary
	Status    Status
	ExpiresIn time.Duration
}

// Stats are dashboard counts for one issuer (or all, for admins).
type Stats struct {
	Total    int
	ByStatus map[Status]int
	// Completed counts tokens with a result: verified, not_verified, declined.
	Completed int
	Verified  int
	// SuccessRate is Verified / Completed, 0 when nothing completed.
	SuccessRate float64
	// Recent holds the newest tokens, newest first.
	Recent []*Token
}

// NewStats derives totals from per-status counts.
func NewStats(counts map[Status]int) Stats {
	st := Stats{ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, s := range AllStatuses {
		n := counts[s]
		st.ByStatus[s] = n
		st.Total += n
		if s.Consumes() {
			st.Completed += n
		}
	}
	st.Verified = counts[StatusVerified]
	if st.Completed > 0 {
		st.SuccessRate = float64(st.Verified) / float64(st.Completed)
	}
	return st
}
