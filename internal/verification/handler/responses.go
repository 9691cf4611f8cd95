package handler

import (
	"fmt"
	"time"

	"geoverify/internal/verification/models"
)

type RecipientResponse struct {
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	Address          string `json:"address"`
	City             string `json:"city"`
	State            string `json:"state"`
	ZipCode          string `json:"zipCode"`
	OrganizationName string `json:"organizationName,omitempty"`
}

type IssueLinkResponse struct {
	TokenID          string            `json:"tokenId"`
	VerificationURL  string            `json:"verificationUrl"`
	Recipient        RecipientResponse `json:"recipient"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	ExpiresIn        string            `json:"expiresIn"`
	ExpiresInSeconds int64             `json:"expiresInSeconds"`
	Geocoded         bool              `json:"geocoded"`
}

type ValidateTokenResponse struct {
	Status    string                  `json:"status"`
	Recipient models.RecipientSummary `json:"recipient"`
	ExpiresIn string                  `json:"expiresIn"`
}

// ConsentResponse is returned when consent moves the session forward. A
// refusal returns the declined result instead.
type ConsentResponse struct {
	Status string `json:"status"`
}

type DeclineResponse struct {
	Message string         `json:"message"`
	Status  string         `json:"status"`
	Result  *models.Result `json:"result"`
}

// TokenResponse is the issuer's view of one verification.
type TokenResponse struct {
	TokenID     string            `json:"tokenId"`
	Status      models.Status     `json:"status"`
	Recipient   RecipientResponse `json:"recipient"`
	Geocoded    bool              `json:"geocoded"`
	IssuedBy    string            `json:"issuedBy"`
	CreatedAt   time.Time         `json:"createdAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Result      *models.Result    `json:"result,omitempty"`
}

type ListTokensResponse struct {
	Tokens []TokenResponse `json:"tokens"`
	Total  int             `json:"total"`
}

type StatsResponse struct {
	Total       int             `json:"total"`
	ByStatus    map[string]int  `json:"byStatus"`
	Completed   int             `json:"completed"`
	Verified    int             `json:"verified"`
	SuccessRate float64         `json:"successRate"`
	Recent      []TokenResponse `json:"recent"`
}

func toRecipientResponse(r models.Recipient) RecipientResponse {
	return RecipientResponse{
		FullName:         r.FullName,
		Email:            r.Email,
		Address:          r.Address,
		City:             r.City,
		State:            r.State,
		ZipCode:          r.ZipCode,
		OrganizationName: r.OrganizationName,
	}
}

func toIssueResponse(res *models.IssueResult) IssueLinkResponse {
	return IssueLinkResponse{
		TokenID:          res.TokenID.String(),
		VerificationURL:  res.VerificationURL,
		Recipient:        toRecipientResponse(res.Recipient),
		ExpiresAt:        res.ExpiresAt,
		ExpiresIn:        humanizeDuration(res.ExpiresIn),
		ExpiresInSeconds: int64(res.ExpiresIn / time.Second),
		Geocoded:         res.Geocoded,
	}
}

func toTokenResponse(t *models.Token) TokenResponse {
	return TokenResponse{
		TokenID:     t.ID.String(),
		Status:      t.Status,
		Recipient:   toRecipientResponse(t.Recipient),
		Geocoded:    t.ClaimedCoordinate != nil,
		IssuedBy:    t.IssuedBy.ID,
		CreatedAt:   t.CreatedAt,
		ExpiresAt:   t.ExpiresAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.ConsumedAt,
		Result:      t.Result,
	}
}

func toStatsResponse(st *models.Stats) StatsResponse {
	byStatus := make(map[string]int, len(st.ByStatus))
	for s, n := range st.ByStatus {
		byStatus[string(s)] = n
	}
	recent := make([]TokenResponse, 0, len(st.Recent))
	for _, t := range st.Recent {
		recent = append(recent, toTokenResponse(t))
	}
	return StatsResponse{
		Total:       st.Total,
		ByStatus:    byStatus,
		Completed:   st.Completed,
		Verified:    st.Verified,
		SuccessRate: st.SuccessRate,
		Recent:      recent,
	}
}

// humanizeDuration renders the largest whole unit, e.g. "24 hours".
func humanizeDuration(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return plural(int64(d/(24*time.Hour)), "day")
	case d >= 2*time.Hour:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int64(d/time.Minute), "minute")
	default:
		return "less than a minute"
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
