package jwttoken

import (
	authmw "geoverify/pkg/platform/middleware/auth"
)

type validatorFunc func(raw string) (*authmw.JWTClaims, error)

func (f validatorFunc) ValidateToken(raw string) (*authmw.JWTClaims, error) { return f(raw) }

// NewJWTServiceAdapter lets the auth middleware accept admin tokens minted
// by s without importing this package.
func NewJWTServiceAdapter(s *JWTService) authmw.JWTValidator {
	return validatorFunc(func(raw string) (*authmw.JWTClaims, error) {
		claims, err := s.ValidateToken(raw)
		if err != nil {
			return nil, err
		}
		return &authmw.JWTClaims{Subject: claims.Subject, JTI: claims.ID}, nil
	})
}
