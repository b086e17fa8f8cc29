package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/habedi/sessync/auth"
	"github.com/habedi/sessync/db"
	"github.com/habedi/sessync/pkg/clierr"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// statusCmd shows the stored session without contacting any server.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session and its token claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := db.GetDB()
			token, err := db.NewTokenRepository(conn).Get(cmd.Context())
			if err != nil {
				return clierr.New(clierr.Internal, "Failed to read the stored session.", err)
			}
			if token == nil || token.AccessToken == "" {
				cmd.Println("Not signed in. Use `sessync login` to sign in.")
				return nil
			}
			profile, err := db.NewProfileRepository(conn).Get(cmd.Context())
			if err != nil {
				log.Warn().Err(err).Msg("Failed to read cached profile")
			}
			renderStatus(cmd.OutOrStdout(), token, profile, time.Now())
			return nil
		},
	}
}

func renderStatus(w io.Writer, token *db.Token, profile *db.Profile, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	if profile != nil {
		table.Append([]string{"User", firstNonEmpty(profile.Username, profile.UserID, "-")})
		if profile.Email != "" {
			table.Append([]string{"Email", profile.Email})
		}
	}
	table.Append([]string{"Access token", abbreviate(token.AccessToken)})
	table.Append([]string{"Refresh token", yesNo(token.RefreshToken != "")})
	table.Append([]string{"Saved at", token.UpdatedAt.Local().Format(time.RFC3339)})

	info, err := auth.InspectToken(token.AccessToken)
	switch {
	case errors.Is(err, auth.ErrNotJWT):
		table.Append([]string{"Format", "opaque"})
	case err != nil:
		table.Append([]string{"Format", fmt.Sprintf("unreadable (%v)", err)})
	default:
		table.Append([]string{"Subject", firstNonEmpty(info.Subject, "-")})
		if !info.ExpiresAt.IsZero() {
			table.Append([]string{"Expires", info.ExpiresAt.Local().Format(time.RFC3339)})
			table.Append([]string{"Expired", yesNo(info.Expired(now))})
		}
	}

	permissions := []string(nil)
	if profile != nil {
		permissions = profile.Permissions
	}
	if len(permissions) == 0 && err == nil {
		permissions = info.Permissions
	}
	if len(permissions) > 0 {
		table.Append([]string{"Permissions", strings.Join(permissions, ", ")})
	}

	table.Render()
}

// abbreviate keeps enough of a token to recognise it.
func abbreviate(token string) string {
	if len(token) <= 16 {
		return token
	}
	return token[:8] + "…" + token[len(token)-4:]
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
