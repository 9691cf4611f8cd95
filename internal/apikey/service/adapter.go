package service

import (
	"context"

	"geoverify/internal/apikey/secrets"
	authmw "geoverify/pkg/platform/middleware/auth"
)

// MiddlewareAdapter exposes Authenticate through the auth middleware's port.
type MiddlewareAdapter struct {
	service *Service
}

func NewMiddlewareAdapter(service *Service) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service}
}

func (a *MiddlewareAdapter) IsAPIKey(credential string) bool {
	return secrets.LooksLikeKey(credential)
}

func (a *MiddlewareAdapter) AuthenticateAPIKey(ctx context.Context, raw string) (*authmw.KeyIdentity, error) {
	key, err := a.service.Authenticate(ctx, raw)
	if err != nil {
		return nil, err
	}
	perms := make([]string, len(key.Permissions))
	for i, p := range key.Permissions {
		perms[i] = string(p)
	}
	return &authmw.KeyIdentity{
		KeyID:            key.ID.String(),
		Permissions:      perms,
		RateLimitPerHour: key.RateLimitPerHour,
	}, nil
}
