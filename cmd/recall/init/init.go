// Package initcmder provides the init command for initializing a local
// .recall directory in the current working directory.
package initcmder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/config"
)

const (
	dirName = ".recall"

	remoteFetchTimeout = 15 * time.Second
)

type initCommander struct {
	preset string
}

const initLongDesc string = `Initialize a new .recall/ directory in the current working directory.

Creates a local .recall/ directory that takes precedence over the default
~/.recall/ directory for the graph database, transcript watch state and
configuration. A config.toml with default values is written unless one
already exists.

--preset writes config.toml from a named provider preset (openai, anthropic,
ollama) or from a TOML file fetched over HTTP, replacing any existing config.

Examples:
  recall init
  recall init --preset anthropic
  recall init --preset https://example.com/team/recall.toml`

const initShortDesc string = "Initialize a local .recall/ directory"

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "", "Provider preset ("+strings.Join(config.ValidPresetNames(), ", ")+") or URL of a config.toml")

	return cmd
}

func (c *initCommander) run(ctx context.Context, w io.Writer) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	existed := false
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		existed = true
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .recall directory: %w", err)
	}

	cfgPath := filepath.Join(dir, "config.toml")

	switch {
	case c.preset != "":
		msg := fmt.Sprintf("Writing %s preset to %s", cliui.ValueStyle.Render(c.preset), cfgPath)
		if err := cliui.Step(w, msg, func() error { return c.writePreset(ctx, dir) }); err != nil {
			return err
		}

	case !fileExists(cfgPath):
		cfger, err := config.NewConfiger(dir)
		if err != nil {
			return err
		}
		if err := cfger.SaveConfig(config.NewDefaultConfig()); err != nil {
			return err
		}
	}

	if existed {
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
		return nil
	}

	fmt.Fprintf(w, "Initialized .recall directory: %s\n", dir)
	return nil
}

func (c *initCommander) writePreset(ctx context.Context, dir string) error {
	if strings.HasPrefix(c.preset, "http://") || strings.HasPrefix(c.preset, "https://") {
		data, err := fetchRemoteConfig(ctx, c.preset)
		if err != nil {
			return err
		}
		// Written verbatim so comments in the shared file survive.
		return os.WriteFile(filepath.Join(dir, "config.toml"), data, 0o600)
	}

	cfg, err := config.PresetConfig(c.preset)
	if err != nil {
		return err
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}
	return cfger.SaveConfig(cfg)
}

// fetchRemoteConfig downloads a config.toml and checks that it parses.
func fetchRemoteConfig(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching remote config: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}

	if _, err := config.ParseConfigTOML(data); err != nil {
		return nil, err
	}

	return data, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
