package testutil

import (
	"net/http"

	id "geoverify/pkg/domain"
	authmw "geoverify/pkg/platform/middleware/auth"
	"geoverify/pkg/requestcontext"
)

// AsAdmin marks the request as sent by an admin, as the auth middleware
// would after validating an admin JWT.
func AsAdmin(req *http.Request, subject string) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), id.Principal{Kind: id.PrincipalAdmin, ID: subject})
	return req.WithContext(ctx)
}

// AsAPIKey marks the request as authenticated by an API key holding perms.
func AsAPIKey(req *http.Request, keyID string, perms ...string) *http.Request {
	ctx := authmw.WithIdentity(req.Context(), &authmw.KeyIdentity{
		KeyID:            keyID,
		Permissions:      perms,
		RateLimitPerHour: 1000,
	})
	return req.WithContext(ctx)
}
