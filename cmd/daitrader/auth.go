package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/daitrader/internal/adapters/schwab"
)

var errVenueNotConfigured = errors.New("auth.client_id and auth.client_secret are required")

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Inspect, refresh or create the persisted venue token set",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if !venueConfigured(cfg) {
			return errVenueNotConfigured
		}
		return nil
	},
}

var authCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report token age and validity without changing anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, _ := newCredentials(cfg)
		st := mgr.Inspect(cmd.Context())

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
		if !st.Valid {
			return fmt.Errorf("token set not usable: %s", st.Error)
		}
		return nil
	},
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the token set now, regardless of its age",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, _ := newCredentials(cfg)
		tok, err := mgr.ForceRefresh(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token refreshed, access token expires %s\n", tok.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize in the browser and store a new token set",
	Long: `login prints the authorization URL. Open it, approve access and paste
the URL the browser was redirected to. The code in it is exchanged for a new
token set, which replaces the persisted one.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, client := newCredentials(cfg)
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Open this URL and approve access:\n\n  %s\n\nPaste the redirected URL: ", client.AuthorizeURL())
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read redirect url: %w", err)
		}
		code, err := schwab.CodeFromRedirect(strings.TrimSpace(line))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		tok, err := client.Exchange(ctx, code)
		if err != nil {
			return err
		}
		if err := mgr.Install(ctx, tok); err != nil {
			return err
		}
		fmt.Fprintf(out, "token set stored in %s\n", cfg.Auth.TokenFile)
		return nil
	},
}

func init() {
	authCmd.AddCommand(authCheckCmd, authRefreshCmd, authLoginCmd)
	rootCmd.AddCommand(authCmd)
}
