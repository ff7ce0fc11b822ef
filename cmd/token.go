package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/auth"
)

var (
	tokenOwner string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API session token for an owner",
	Long:  "Signs a session token with auth.jwt_secret. Use it as a Bearer token against the serve API.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(tokenOwner) == "" {
			return eris.New("token: --owner is required")
		}
		if tokenTTL <= 0 {
			return eris.New("token: --ttl must be positive")
		}

		tokens, err := auth.NewJWTManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.StateTTLSecs)*time.Second)
		if err != nil {
			return err
		}
		tok, err := tokens.IssueSession(tokenOwner, tokenTTL)
		if err != nil {
			return eris.Wrap(err, "token: issue session")
		}
		fmt.Fprintln(os.Stdout, tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOwner, "owner", "", "owner id the token authenticates as (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
