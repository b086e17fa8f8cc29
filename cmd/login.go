package cmd

import (
	"bufio"

	"github.com/habedi/sessync/auth"
	"github.com/habedi/sessync/pkg/clierr"
	"github.com/habedi/sessync/pkg/validation"
	"github.com/habedi/sessync/session"
	"github.com/habedi/sessync/tabsync"
	"github.com/spf13/cobra"
)

// loginCmd stores an already issued token pair and tells sibling sessions.
func loginCmd(cfg *settings) *cobra.Command {
	var user tabsync.User
	var accessToken string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an already issued token pair",
		Long:  "Store an access/refresh token pair issued by your identity provider and announce the login to sibling sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			var err error
			if accessToken == "" {
				if accessToken, err = promptForSecret(in, out, "Access token: "); err != nil {
					return clierr.New(clierr.Internal, "Failed to read the access token.", err)
				}
			}
			refreshToken, err := promptForSecret(in, out, "Refresh token: ")
			if err != nil {
				return clierr.New(clierr.Internal, "Failed to read the refresh token.", err)
			}
			if err := validateTokens(accessToken, refreshToken); err != nil {
				return err
			}
			if user.ID == "" {
				if info, err := auth.InspectToken(accessToken); err == nil {
					user.ID = info.Subject
				}
			}

			sess, closeSession, err := openSession(cmd.Context(), cfg, session.Options{})
			if err != nil {
				return err
			}
			defer closeSession()

			if err := sess.Login(cmd.Context(), user, auth.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}); err != nil {
				return classify(err)
			}
			cmd.Println("Login was successful.")
			return nil
		},
	}

	cmd.Flags().StringVar(&user.ID, "user-id", "", "User ID announced to sibling sessions (defaults to the token subject)")
	cmd.Flags().StringVar(&user.Username, "username", "", "Username announced to sibling sessions")
	cmd.Flags().StringVar(&user.Email, "email", "", "Email announced to sibling sessions")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token (prompted for when omitted)")

	return cmd
}

func validateTokens(accessToken, refreshToken string) error {
	if err := validation.ValidateNonEmptyString("access token", accessToken); err != nil {
		return clierr.New(clierr.Validation, "Access token cannot be empty.", err)
	}
	if err := validation.ValidateNonEmptyString("refresh token", refreshToken); err != nil {
		return clierr.New(clierr.Validation, "Refresh token cannot be empty.", err)
	}
	return nil
}

// logoutCmd clears the stored pair and tells sibling sessions.
func logoutCmd(cfg *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out here and in every sibling session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeSession, err := openSession(cmd.Context(), cfg, session.Options{})
			if err != nil {
				return err
			}
			defer closeSession()

			if err := sess.Logout(cmd.Context()); err != nil {
				return classify(err)
			}
			cmd.Println("Logged out.")
			return nil
		},
	}
}
