package cli

import (
	"fmt"
	"time"

	"github.com/ayo6706/wager-lobby/internal/api/middleware"
	"github.com/ayo6706/wager-lobby/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

// newTokenCmd mints a bearer token with the server's JWT settings. Meant for
// operators and local testing; players get tokens from the identity provider.
func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if role != middleware.RoleAdmin && role != middleware.RolePlayer {
				return fmt.Errorf("--role must be %q or %q", middleware.RoleAdmin, middleware.RolePlayer)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			now := time.Now()
			auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
			token, err := auth.Sign(middleware.Claims{
				UserID: userID,
				Role:   role,
				RegisteredClaims: jwt.RegisteredClaims{
					IssuedAt:  jwt.NewNumericDate(now),
					NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID to embed in the token")
	cmd.Flags().StringVar(&role, "role", middleware.RolePlayer, "Role: player or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
