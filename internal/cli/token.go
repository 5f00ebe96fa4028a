package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/auth"
)

// secretEnv is read when --secret is not given.
const secretEnv = "CLIMATE_AUTH_JWT_SECRET"

func newTokenCmd(a *app) *cobra.Command {
	var (
		secret  string
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token --subject operator@inumet",
		Short: "Issue a bearer token for the alert API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv(secretEnv)
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: pass --secret or set %s", secretEnv)
			}
			tok, err := auth.IssueToken(secret, subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC signing secret (default $"+secretEnv+")")
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, recorded as the acting user")
	cmd.Flags().StringVar(&role, "role", "operator", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
