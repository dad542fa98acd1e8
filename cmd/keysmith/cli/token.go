package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		owner string
		ttl   time.Duration
		dev   bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an owner token for the key management API",
		Long: `Mint an HS256 owner token signed with auth.jwt_secret. In production owner
tokens come from your identity provider; this command is for operators and
local testing.`,
		Example: `  keysmith token --owner U1
  curl -H "Authorization: Bearer $(keysmith token --owner U1)" localhost:8080/api/v1/keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			auth, err := ownerAuth(cfg, dev, logger)
			if err != nil {
				return err
			}
			return printToken(cmd.OutOrStdout(), auth.IssueToken, owner, ttl)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner id placed in the token subject (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&dev, "dev", false, "Sign with the development secret when auth.jwt_secret is unset")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func printToken(out io.Writer, issue func(string, time.Duration) (string, error), owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}
	tok, err := issue(owner, ttl)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	fmt.Fprintln(out, tok)
	return nil
}
