package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tandemapp/tandem-go/internal/config"
	"github.com/tandemapp/tandem-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an API token for the Tandem server",
		Long: `Save an API token issued by the Tandem account console.

The token is stored in the data directory with owner-only permissions.
Login works even when the config file is broken, so a bad edit can
never lock you out of re-authenticating.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE:        runLogin,
	}

	cmd.Flags().String("token", "", "API token to save")
	cmd.Flags().String("account", "", "account name shown by whoami")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return err
	}

	if token == "" {
		return fmt.Errorf("--token is required (issue one from the Tandem account console)")
	}

	account, err := cmd.Flags().GetString("account")
	if err != nil {
		return err
	}

	dataDir, err := dataDirFor(cc.Flags)
	if err != nil {
		return err
	}

	meta := map[string]string{}
	if account != "" {
		meta[tokenfile.MetaAccount] = account
	}

	if cc.Flags.Server != "" {
		meta[tokenfile.MetaServer] = cc.Flags.Server
	}

	path := config.TokenPathIn(dataDir)
	if err := tokenfile.Save(path, &oauth2.Token{AccessToken: token}, meta); err != nil {
		return err
	}

	cc.Logger.Info("login successful", "token_path", path)
	cc.Statusf("Token saved.\n")

	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Remove the saved API token",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE:        runLogout,
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	dataDir, err := dataDirFor(cc.Flags)
	if err != nil {
		return err
	}

	if err := tokenfile.Delete(config.TokenPathIn(dataDir)); err != nil {
		return err
	}

	cc.Logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the saved login",
		Long: `Show which account the saved token belongs to.

Reads the credential file only; does not contact the server.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE:        runWhoami,
	}
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	LoggedIn  bool   `json:"logged_in"`
	Account   string `json:"account,omitempty"`
	Server    string `json:"server,omitempty"`
	TokenPath string `json:"token_path,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	dataDir, err := dataDirFor(cc.Flags)
	if err != nil {
		return err
	}

	path := config.TokenPathIn(dataDir)

	tok, meta, err := tokenfile.Load(path)
	if err != nil {
		return err
	}

	out := whoamiOutput{LoggedIn: tok != nil}
	if tok != nil {
		out.Account = meta[tokenfile.MetaAccount]
		out.Server = meta[tokenfile.MetaServer]
		out.TokenPath = path
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	if !out.LoggedIn {
		fmt.Println("Not logged in. Run 'tandem-go login' to get started.")

		return nil
	}

	account := out.Account
	if account == "" {
		account = "(unnamed)"
	}

	server := out.Server
	if server == "" {
		server = "(default)"
	}

	fmt.Printf("Account: %s\n", account)
	fmt.Printf("Server:  %s\n", server)
	fmt.Printf("Token:   %s\n", path)

	return nil
}
