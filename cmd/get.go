package cmd

import (
	"fmt"
	"io"
	"net/http"

	"github.com/habedi/sessync/pkg/clierr"
	"github.com/habedi/sessync/pkg/validation"
	"github.com/habedi/sessync/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// getCmd sends one authenticated GET, refreshing the token if it has expired.
func getCmd(cfg *settings) *cobra.Command {
	var showStatus bool

	cmd := &cobra.Command{
		Use:   "get [url]",
		Short: "Send an authenticated GET request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if err := validation.ValidateEndpoint("url", target); err != nil {
				return clierr.New(clierr.Validation, err.Error(), err)
			}
			if err := cfg.requireRefreshURL(); err != nil {
				return err
			}

			sess, closeSession, err := openSession(cmd.Context(), cfg, session.Options{})
			if err != nil {
				return err
			}
			defer closeSession()

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return clierr.New(clierr.Validation, "Invalid request URL.", err)
			}
			resp, err := sess.HTTPClient().Do(req)
			if err != nil {
				return classify(err)
			}
			defer resp.Body.Close()

			log.Info().Str("url", target).Int("status", resp.StatusCode).Msg("Request completed")
			if showStatus {
				cmd.Println(resp.Status)
			}
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return clierr.New(clierr.Network, "Failed to read the response body.", err)
			}
			if resp.StatusCode == http.StatusUnauthorized {
				return clierr.New(clierr.Unauthenticated, "The server rejected the refreshed token.", fmt.Errorf("status %s", resp.Status))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showStatus, "status", "s", false, "Print the HTTP status line before the body")
	return cmd
}
