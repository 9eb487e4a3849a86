package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/render-gate/internal/config"
	"github.com/benvon/render-gate/internal/services/oidc"
	"github.com/spf13/cobra"
)

// NewOIDCCmd creates the oidc command
func NewOIDCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oidc",
		Short: "Check identity provider settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Test the configured JWKS endpoint",
		Long:  "Fetch the key set from OIDC_JWKS_URL (or OIDC_ISSUER/.well-known/jwks.json) and report whether it parses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.OIDCJWKSURL == "" {
				return fmt.Errorf("OIDC_ISSUER or OIDC_JWKS_URL must be set")
			}

			fmt.Printf("Issuer:   %s\n", cfg.OIDCIssuer)
			fmt.Printf("Audience: %s\n", cfg.OIDCAudience)
			fmt.Printf("\nTesting JWKS endpoint: %s\n", cfg.OIDCJWKSURL)

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			keys, err := oidc.NewJWKSManager(cfg.OIDCJWKSURL).Keys(ctx)
			if err != nil {
				return fmt.Errorf("fetch JWKS: %w", err)
			}
			fmt.Printf("✓ JWKS endpoint is accessible (%d keys)\n", keys.Len())
			return nil
		},
	})
	return cmd
}
