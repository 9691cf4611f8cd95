package handler

import (
	"time"

	"geoverify/internal/apikey/models"
	dErrors "geoverify/pkg/domain-errors"
)

const maxExpiresInDays = 3650

// CreateAPIKeyRequest is the admin payload for POST /api/api-keys.
type CreateAPIKeyRequest struct {
	Name          string   `json:"name"`
	Company       string   `json:"company"`
	Description   string   `json:"description"`
	Environment   string   `json:"environment"`
	Permissions   []string `json:"permissions"`
	RateLimit     int      `json:"rateLimit"`
	ExpiresInDays *int     `json:"expiresInDays"`

	parsed models.CreateRequest
}

func (r *CreateAPIKeyRequest) Validate() error {
	env, err := models.ParseEnvironment(r.Environment)
	if err != nil {
		return err
	}
	var perms []models.Permission
	if r.Permissions != nil {
		if perms, err = models.ParsePermissions(r.Permissions); err != nil {
			return err
		}
	}
	var expiresIn time.Duration
	if r.ExpiresInDays != nil {
		if *r.ExpiresInDays < 1 || *r.ExpiresInDays > maxExpiresInDays {
			return dErrors.New(dErrors.CodeValidation, "expiresInDays must be between 1 and 3650")
		}
		expiresIn = time.Duration(*r.ExpiresInDays) * 24 * time.Hour
	}
	req := models.CreateRequest{
		Name:             r.Name,
		Company:          r.Company,
		Description:      r.Description,
		Environment:      env,
		Permissions:      perms,
		RateLimitPerHour: r.RateLimit,
		ExpiresIn:        expiresIn,
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}
	r.parsed = req
	return nil
}

// UpdateAPIKeyRequest is the admin payload for PATCH /api/api-keys/{keyID}.
type UpdateAPIKeyRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Active      *bool    `json:"active"`
	Permissions []string `json:"permissions"`
	RateLimit   *int     `json:"rateLimit"`

	parsed models.UpdateRequest
}

func (r *UpdateAPIKeyRequest) Validate() error {
	upd := models.UpdateRequest{
		Name:             r.Name,
		Description:      r.Description,
		Active:           r.Active,
		RateLimitPerHour: r.RateLimit,
	}
	if r.Permissions != nil {
		perms, err := models.ParsePermissions(r.Permissions)
		if err != nil {
			return err
		}
		if len(perms) == 0 {
			return dErrors.New(dErrors.CodeValidation, "permissions cannot be empty")
		}
		upd.Permissions = perms
	}
	r.parsed = upd
	return nil
}
