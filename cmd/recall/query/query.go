// Package querycmder provides the commands that query and edit the knowledge
// graph through a running recall API server.
package querycmder

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/client"
	"github.com/papercomputeco/recall/pkg/config"
)

const defaultLimit = 10

// clientCommander holds the flags shared by every API-backed command.
type clientCommander struct {
	apiTarget string
	limit     int
	asJSON    bool
}

func (c *clientCommander) addFlags(cmd *cobra.Command, withLimit bool) {
	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&c.apiTarget, "api-target", defaults.Client.APITarget, "Recall API server URL")
	cmd.Flags().BoolVar(&c.asJSON, "json", false, "Print the raw JSON response")
	if withLimit {
		cmd.Flags().IntVarP(&c.limit, "limit", "k", defaultLimit, "Maximum number of results")
	}

	cmd.PreRunE = c.preRun
}

// preRun takes the API target from config.toml unless --api-target was given.
func (c *clientCommander) preRun(cmd *cobra.Command, _ []string) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cmd.Flags().Changed("api-target") {
		c.apiTarget = cfg.Client.APITarget
	}
	return nil
}

func (c *clientCommander) client() (*client.Client, error) {
	return client.New(c.apiTarget, nil)
}

// printJSON writes v when --json is set and reports whether it did.
func (c *clientCommander) printJSON(w io.Writer, v any) (bool, error) {
	if !c.asJSON {
		return false, nil
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return true, fmt.Errorf("encoding response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return true, err
}
