package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zbxkit/zbx/client"
	"golang.org/x/term"
)

var (
	apiURL  string
	apiUser string
)

var apiCmd = &cobra.Command{
	Use:   "api METHOD [PARAMS]",
	Short: "Call a JSON-RPC API method, e.g. zbxctl api host.get '{\"output\":\"extend\"}'",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
				return fmt.Errorf("params must be a JSON object: %w", err)
			}
		}

		if cmd.Flags().Changed("url") {
			cfg.API.URL = apiURL
		}
		if cmd.Flags().Changed("user") {
			cfg.API.User = apiUser
		}

		api := client.New(cfg.API.URL, client.WithLogger(logger))
		ctx := cmd.Context()
		if cfg.API.User != "" {
			password := cfg.API.Password
			if password == "" {
				var err error
				if password, err = promptPassword(cmd, cfg.API.User); err != nil {
					return err
				}
			}
			if err := api.Login(ctx, cfg.API.User, password); err != nil {
				return err
			}
			defer api.Logout(ctx)
		}

		result, err := api.Call(ctx, args[0], params)
		if err != nil {
			return err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, []byte(result.String()), "", "  "); err != nil {
			return err
		}
		out.WriteByte('\n')
		_, err = out.WriteTo(cmd.OutOrStdout())
		return err
	},
}

func init() {
	apiCmd.Flags().StringVar(&apiURL, "url", "", "API endpoint (overrides config)")
	apiCmd.Flags().StringVarP(&apiUser, "user", "u", "", "log in as this user (overrides config)")
}

// promptPassword reads the password without echo.
func promptPassword(cmd *cobra.Command, user string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password for %s: set ZBX_API_PASSWORD", user)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", user)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
