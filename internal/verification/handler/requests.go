package handler

import (
	"math"
	"strings"
	"time"

	"geoverify/internal/risk"
	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
)

const maxExpiresInDays = 365

// IssueLinkRequest is the body of POST /api/verification-links.
type IssueLinkRequest struct {
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	Address          string `json:"address"`
	City             string `json:"city"`
	State            string `json:"state"`
	ZipCode          string `json:"zipCode"`
	OrganizationName string `json:"organizationName"`
	ExpiresInDays    *int   `json:"expiresInDays"`

	parsed models.IssueRequest
}

func (r *IssueLinkRequest) Validate() error {
	recipient := models.Recipient{
		FullName:         r.FullName,
		Email:            r.Email,
		Address:          r.Address,
		City:             r.City,
		State:            r.State,
		ZipCode:          r.ZipCode,
		OrganizationName: r.OrganizationName,
	}
	recipient.Normalize()
	if err := recipient.Validate(); err != nil {
		return err
	}
	var ttl time.Duration
	if r.ExpiresInDays != nil {
		if *r.ExpiresInDays < 1 || *r.ExpiresInDays > maxExpiresInDays {
			return dErrors.New(dErrors.CodeValidation, "expiresInDays must be between 1 and 365")
		}
		ttl = time.Duration(*r.ExpiresInDays) * 24 * time.Hour
	}
	r.parsed = models.IssueRequest{Recipient: recipient, TTL: ttl}
	return nil
}

// TokenRequest carries only the link token. Used by validate-token and
// verification-declined.
type TokenRequest struct {
	Token string `json:"token"`

	tokenID id.TokenID
}

func (r *TokenRequest) Validate() error {
	tokenID, err := id.ParseTokenID(r.Token)
	if err != nil {
		return err
	}
	r.tokenID = tokenID
	return nil
}

// ConsentRequest is the recipient's answer to the location prompt.
type ConsentRequest struct {
	Token   string `json:"token"`
	Consent *bool  `json:"consent"`

	tokenID id.TokenID
}

func (r *ConsentRequest) Validate() error {
	tokenID, err := id.ParseTokenID(r.Token)
	if err != nil {
		return err
	}
	if r.Consent == nil {
		return dErrors.New(dErrors.CodeValidation, "consent is required")
	}
	r.tokenID = tokenID
	return nil
}

// LocationPayload mirrors the browser Geolocation API position.
type LocationPayload struct {
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	Accuracy         *float64 `json:"accuracy"`
	Altitude         *float64 `json:"altitude"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy"`
	Heading          *float64 `json:"heading"`
	Speed            *float64 `json:"speed"`
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp *float64 `json:"timestamp"`
}

// SubmitRequest is the body of POST /api/submit-verification.
type SubmitRequest struct {
	Token            string           `json:"token"`
	Consent          bool             `json:"consent"`
	Location         *LocationPayload `json:"location"`
	UserAgent        string           `json:"userAgent"`
	ScreenResolution string           `json:"screenResolution"`
	Timezone         string           `json:"timezone"`

	tokenID    id.TokenID
	submission models.Submission
}

func (r *SubmitRequest) Validate() error {
	tokenID, err := id.ParseTokenID(r.Token)
	if err != nil {
		return err
	}
	sub := models.Submission{
		Consent: r.Consent,
		Device: risk.DeviceContext{
			UserAgent:        strings.TrimSpace(r.UserAgent),
			ScreenResolution: strings.TrimSpace(r.ScreenResolution),
			Timezone:         strings.TrimSpace(r.Timezone),
		},
	}
	if r.Consent {
		loc, err := r.Location.toModel()
		if err != nil {
			return err
		}
		sub.Location = loc
	}
	r.tokenID = tokenID
	r.submission = sub
	return nil
}

func (p *LocationPayload) toModel() (models.Location, error) {
	if p == nil {
		return models.Location{}, dErrors.New(dErrors.CodeInvalidCoordinate, "location is required when consent is given")
	}
	if p.Latitude == nil || p.Longitude == nil {
		return models.Location{}, dErrors.New(dErrors.CodeInvalidCoordinate, "latitude and longitude are required")
	}
	if p.Accuracy == nil {
		return models.Location{}, dErrors.New(dErrors.CodeInvalidCoordinate, "accuracy is required")
	}
	loc := models.Location{
		Latitude:       *p.Latitude,
		Longitude:      *p.Longitude,
		AccuracyMeters: *p.Accuracy,
		Altitude:       p.Altitude,
		Heading:        p.Heading,
		Speed:          p.Speed,
	}
	if err := loc.Coordinate().Validate(); err != nil {
		return models.Location{}, err
	}
	if p.Timestamp != nil && *p.Timestamp > 0 && !math.IsInf(*p.Timestamp, 0) {
		loc.CapturedAt = time.UnixMilli(int64(*p.Timestamp)).UTC()
	}
	return loc, nil
}
