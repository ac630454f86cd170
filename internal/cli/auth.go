package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/voicectl/internal/domain"
)

var (
	loginEmail string
	loginCode  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with email and device code",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			cred, err := c.Sessions.Authenticate(ctx, loginEmail, loginCode)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s%s\n", cred.User.Email, expiry(cred))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			if err := c.Creds.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client) error {
			cred, err := c.Creds.Load(ctx)
			if err != nil {
				return err
			}
			if cred == nil {
				return explain(domain.ErrNotAuthenticated)
			}
			name := cred.User.Email
			if name == "" {
				name = string(cred.User.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)%s\n", name, cred.User.ID, expiry(cred))
			return nil
		})
	},
}

func expiry(cred *domain.Credential) string {
	if cred.ExpiresAt == nil {
		return ""
	}
	return ", valid until " + time.Unix(*cred.ExpiresAt, 0).Format(time.RFC1123)
}

// explain adds a hint for the errors an operator can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrCredentialExpired):
		return fmt.Errorf("%w; run: voicectl login --email <email> --code <code>", err)
	case errors.Is(err, domain.ErrAuthFailed):
		return fmt.Errorf("login failed, check the email and device code: %w", err)
	case errors.Is(err, domain.ErrInvalidInput):
		return fmt.Errorf("%w (use --email and --code)", err)
	}
	return err
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginCode, "code", "", "device code")
}
