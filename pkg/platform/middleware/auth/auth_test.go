package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	id "geoverify/pkg/domain"
	"geoverify/pkg/requestcontext"
)

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*JWTClaims, error) {
	if token == "good-jwt" {
		return &JWTClaims{Subject: "ops", JTI: "jti-1"}, nil
	}
	return nil, errors.New("bad token")
}

type stubKeys struct{}

func (stubKeys) IsAPIKey(credential string) bool { return strings.HasPrefix(credential, "gv_") }

func (stubKeys) AuthenticateAPIKey(_ context.Context, raw string) (*KeyIdentity, error) {
	if raw == "gv_live_good" {
		return &KeyIdentity{KeyID: "key_1", Permissions: []string{"verification:read"}, RateLimitPerHour: 10}, nil
	}
	return nil, errors.New("bad key")
}

type AuthMiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func (s *AuthMiddlewareSuite) serve(mw func(http.Handler) http.Handler, headers map[string]string) (*httptest.ResponseRecorder, id.Principal) {
	var seen id.Principal
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.Principal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func (s *AuthMiddlewareSuite) TestRequireAuth() {
	mw := RequireAuth(stubValidator{}, stubKeys{}, s.logger)

	s.Run("admin jwt", func() {
		rec, p := s.serve(mw, map[string]string{"Authorization": "Bearer good-jwt"})
		s.Equal(http.StatusNoContent, rec.Code)
		s.Equal(id.Principal{Kind: id.PrincipalAdmin, ID: "ops"}, p)
	})

	s.Run("api key header", func() {
		rec, p := s.serve(mw, map[string]string{HeaderAPIKey: "gv_live_good"})
		s.Equal(http.StatusNoContent, rec.Code)
		s.Equal(id.Principal{Kind: id.PrincipalAPIKey, ID: "key_1"}, p)
	})

	s.Run("api key as bearer", func() {
		rec, p := s.serve(mw, map[string]string{"Authorization": "Bearer gv_live_good"})
		s.Equal(http.StatusNoContent, rec.Code)
		s.Equal(id.PrincipalAPIKey, p.Kind)
	})

	s.Run("rejections are 401", func() {
		for _, headers := range []map[string]string{
			{},
			{"Authorization": "Bearer bad-jwt"},
			{HeaderAPIKey: "gv_live_bad"},
			{"Authorization": "Basic Zm9vOmJhcg=="},
		} {
			rec, _ := s.serve(mw, headers)
			s.Equal(http.StatusUnauthorized, rec.Code, headers)
			s.Contains(rec.Body.String(), `"unauthorized"`)
		}
	})
}

func (s *AuthMiddlewareSuite) TestAuthorization() {
	authn := RequireAuth(stubValidator{}, stubKeys{}, s.logger)
	chain := func(inner func(http.Handler) http.Handler) func(http.Handler) http.Handler {
		return func(h http.Handler) http.Handler { return authn(inner(h)) }
	}

	s.Run("admin only", func() {
		mw := chain(RequireAdmin(s.logger))
		rec, _ := s.serve(mw, map[string]string{"Authorization": "Bearer good-jwt"})
		s.Equal(http.StatusNoContent, rec.Code)
		rec, _ = s.serve(mw, map[string]string{HeaderAPIKey: "gv_live_good"})
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.Run("permission check", func() {
		rec, _ := s.serve(chain(RequirePermission("verification:read", s.logger)), map[string]string{HeaderAPIKey: "gv_live_good"})
		s.Equal(http.StatusNoContent, rec.Code)

		rec, _ = s.serve(chain(RequirePermission("verification:revoke", s.logger)), map[string]string{HeaderAPIKey: "gv_live_good"})
		s.Equal(http.StatusForbidden, rec.Code)

		rec, _ = s.serve(chain(RequirePermission("verification:revoke", s.logger)), map[string]string{"Authorization": "Bearer good-jwt"})
		s.Equal(http.StatusNoContent, rec.Code)
	})
}
