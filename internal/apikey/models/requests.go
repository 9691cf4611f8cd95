package models

import (
	"strings"
	"time"

	dErrors "geoverify/pkg/domain-errors"
)

// CreateRequest carries validated input for key creation.
type CreateRequest struct {
	Name             string
	Company          string
	Description      string
	Environment      Environment
	Permissions      []Permission
	RateLimitPerHour int
	ExpiresIn        time.Duration
}

func (r *CreateRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Company = strings.TrimSpace(r.Company)
	r.Description = strings.TrimSpace(r.Description)
	if r.Environment == "" {
		r.Environment = EnvironmentLive
	}
}

func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if r.Company == "" {
		return dErrors.New(dErrors.CodeValidation, "company is required")
	}
	if len(r.Name) > maxNameLength || len(r.Company) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "name and company must be at most 128 characters")
	}
	if len(r.Description) > maxDescriptionLength {
		return dErrors.New(dErrors.CodeValidation, "description must be at most 1000 characters")
	}
	if r.Environment != EnvironmentLive && r.Environment != EnvironmentTest {
		return dErrors.New(dErrors.CodeValidation, "environment must be live or test")
	}
	if err := validateRateLimit(r.RateLimitPerHour); err != nil {
		return err
	}
	if r.ExpiresIn < 0 {
		return dErrors.New(dErrors.CodeValidation, "expiry must be positive")
	}
	return nil
}

func validateRateLimit(n int) error {
	if n < 0 || n > MaxRateLimitPerHour {
		return dErrors.New(dErrors.CodeValidation, "rateLimit must be between 1 and 100000")
	}
	return nil
}

// UpdateRequest changes mutable fields; nil fields are left alone.
type UpdateRequest struct {
	Name             *string
	Description      *string
	Active           *bool
	Permissions      []Permission
	RateLimitPerHour *int
}

// Apply validates the update and applies it to k.
func (r UpdateRequest) Apply(k *APIKey, now time.Time) error {
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		if name == "" || len(name) > maxNameLength {
			return dErrors.New(dErrors.CodeValidation, "name must be 1 to 128 characters")
		}
		k.Name = name
	}
	if r.Description != nil {
		desc := strings.TrimSpace(*r.Description)
		if len(desc) > maxDescriptionLength {
			return dErrors.New(dErrors.CodeValidation, "description must be at most 1000 characters")
		}
		k.Description = desc
	}
	if r.RateLimitPerHour != nil {
		if *r.RateLimitPerHour == 0 {
			return dErrors.New(dErrors.CodeValidation, "rateLimit must be between 1 and 100000")
		}
		if err := validateRateLimit(*r.RateLimitPerHour); err != nil {
			return err
		}
		k.RateLimitPerHour = *r.RateLimitPerHour
	}
	if r.Permissions != nil {
		k.Permissions = r.Permissions
	}
	if r.Active != nil {
		k.Active = *r.Active
	}
	k.UpdatedAt = now
	return nil
}
