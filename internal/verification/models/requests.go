package models

import (
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	dErrors "geoverify/pkg/domain-errors"
)

const (
	maxAddressLength = 500
	maxPartLength    = 100
)

// IssueRequest is the input to token issuance. A zero TTL means the
// configured default.
type IssueRequest struct {
	Recipient Recipient
	TTL       time.Duration
}

// Normalize trims whitespace and lowercases the email.
func (r *Recipient) Normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Address = strings.TrimSpace(r.Address)
	r.City = strings.TrimSpace(r.City)
	r.State = strings.TrimSpace(r.State)
	r.ZipCode = strings.TrimSpace(r.ZipCode)
	r.OrganizationName = strings.TrimSpace(r.OrganizationName)
}

// Validate checks required fields and sizes. Call Normalize first.
func (r Recipient) Validate() error {
	switch {
	case r.FullName == "":
		return dErrors.New(dErrors.CodeValidation, "fullName is required")
	case r.Email == "":
		return dErrors.New(dErrors.CodeValidation, "email is required")
	case r.Address == "":
		return dErrors.New(dErrors.CodeValidation, "address is required")
	case r.City == "":
		return dErrors.New(dErrors.CodeValidation, "city is required")
	case r.State == "":
		return dErrors.New(dErrors.CodeValidation, "state is required")
	case r.ZipCode == "":
		return dErrors.New(dErrors.CodeValidation, "zipCode is required")
	}
	if !govalidator.StringLength(r.FullName, "1", "200") {
		return dErrors.New(dErrors.CodeValidation, "fullName must be at most 200 characters")
	}
	if !govalidator.StringLength(r.Email, "3", "255") || !govalidator.IsEmail(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "email is not a valid address")
	}
	if len(r.Address) > maxAddressLength {
		return dErrors.New(dErrors.CodeValidation, "address must be at most 500 characters")
	}
	for _, f := range []struct{ name, value string }{
		{"city", r.City}, {"state", r.State}, {"zipCode", r.ZipCode}, {"organizationName", r.OrganizationName},
	} {
		if len(f.value) > maxPartLength {
			return dErrors.New(dErrors.CodeValidation, f.name+" must be at most 100 characters")
		}
	}
	return nil
}
