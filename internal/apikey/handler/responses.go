package handler

import (
	"time"

	"geoverify/internal/apikey/models"
)

type APIKeyResponse struct {
	ID          string     `json:"id"`
	KeyPrefix   string     `json:"keyPrefix"`
	Name        string     `json:"name"`
	Company     string     `json:"company"`
	Description string     `json:"description,omitempty"`
	Environment string     `json:"environment"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rateLimit"`
	Active      bool       `json:"active"`
	UsageCount  int64      `json:"usageCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
}

// CreateAPIKeyResponse carries the raw key. It is the only response that
// ever does.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type ListAPIKeysResponse struct {
	APIKeys []APIKeyResponse `json:"apiKeys"`
	Total   int              `json:"total"`
}

func toResponse(k *models.APIKey) APIKeyResponse {
	perms := make([]string, len(k.Permissions))
	for i, p := range k.Permissions {
		perms[i] = string(p)
	}
	return APIKeyResponse{
		ID:          k.ID.String(),
		KeyPrefix:   k.KeyPrefix,
		Name:        k.Name,
		Company:     k.Company,
		Description: k.Description,
		Environment: string(k.Environment),
		Permissions: perms,
		RateLimit:   k.RateLimitPerHour,
		Active:      k.Active,
		UsageCount:  k.UsageCount,
		CreatedAt:   k.CreatedAt,
		UpdatedAt:   k.UpdatedAt,
		ExpiresAt:   k.ExpiresAt,
		LastUsedAt:  k.LastUsedAt,
	}
}
