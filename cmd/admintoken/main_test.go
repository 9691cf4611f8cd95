package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "geoverify/internal/jwt_token"
)

func TestMintIssuesAValidAdminToken(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "cli-test-key")
	t.Setenv("JWT_ISSUER", "geoverify")
	t.Setenv("JWT_AUDIENCE", "geoverify-admin")

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"--subject", "ops@example.com", "--ttl", "1h"})
	require.NoError(t, rootCmd.Execute())

	token := strings.TrimSpace(out.String())
	claims, err := jwttoken.NewJWTService("cli-test-key", "geoverify", "geoverify-admin").ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Contains(t, errOut.String(), "expires at")
}
