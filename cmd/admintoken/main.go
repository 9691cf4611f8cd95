package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	jwttoken "geoverify/internal/jwt_token"
	"geoverify/internal/platform/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "admintoken",
	Short: "Mint admin bearer tokens for the geoverify API",
	Long: `admintoken signs an admin JWT with the same JWT_SIGNING_KEY, JWT_ISSUER
and JWT_AUDIENCE the server reads, so the token is accepted by a server
started from the same environment.

Examples:
  admintoken --subject ops@example.com
  admintoken --subject ops@example.com --ttl 1h`,
	SilenceUsage: true,
	RunE:         runMint,
}

func init() {
	rootCmd.Flags().StringP("subject", "s", "", "Admin identity recorded as the token subject (required)")
	rootCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to JWT_TTL)")
	_ = rootCmd.MarkFlagRequired("subject")
}

func runMint(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.JWT.TTL
	}
	if cfg.UsesDevSigningKey() {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: signing with the development key")
	}

	svc := jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	token, err := svc.GenerateAdminToken(subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return nil
}
