// Package statuscmder provides the status command for displaying the local
// .recall directory state and whether the API server is reachable.
package statuscmder

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/client"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/dotdir"
)

const pingTimeout = 3 * time.Second

type statusCommander struct {
	configDir string
	apiTarget string
}

const statusLongDesc string = `Show the recall directory state.

Reports the resolved .recall/ directory (local ./.recall/ or ~/.recall/),
how far the transcript watcher has read each file, and whether the API
server at the configured target answers.

Examples:
  recall status
  recall status --api-target http://recall.internal:8787`

const statusShortDesc string = "Show watcher progress and server reachability"

func NewStatusCmd() *cobra.Command {
	cmder := &statusCommander{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cmd.Flags().Changed("api-target") {
				cmder.apiTarget = cfg.Client.APITarget
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", config.NewDefaultConfig().Client.APITarget, "Recall API server URL")

	return cmd
}

func (c *statusCommander) run(ctx context.Context, w io.Writer) error {
	manager := dotdir.NewManager()

	dir, err := manager.Target(c.configDir)
	if err != nil {
		return err
	}

	state, err := manager.LoadWatchState(c.configDir)
	if err != nil {
		return fmt.Errorf("loading watch state: %w", err)
	}

	fmt.Fprintf(w, "\n  %s  %s\n", cliui.KeyStyle.Render("Directory:"), cliui.ValueStyle.Render(dir))
	fmt.Fprintf(w, "  %s  %s %s\n", cliui.KeyStyle.Render("Server:   "), c.apiTarget, c.ping(ctx))

	if len(state.Offsets) == 0 {
		fmt.Fprintf(w, "\n  %s No transcripts watched yet.\n\n", cliui.DimStyle.Render("●"))
		return nil
	}

	fmt.Fprintf(w, "\n  %s\n", cliui.HeaderStyle.Render("Transcripts"))

	paths := make([]string, 0, len(state.Offsets))
	for path := range state.Offsets {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	for _, path := range paths {
		offset := state.Offsets[path]
		fmt.Fprintf(w, "  %s %s %s\n", progressMark(path, offset), path, cliui.DimStyle.Render(fmt.Sprintf("%d bytes read", offset)))
	}

	fmt.Fprintln(w)
	return nil
}

func (c *statusCommander) ping(ctx context.Context) string {
	cl, err := client.New(c.apiTarget, nil)
	if err != nil {
		return cliui.FailMark
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return cliui.Mark(cl.Ping(ctx))
}

// progressMark is a check when the file has been read to its end.
func progressMark(path string, offset int64) string {
	info, err := os.Stat(path)
	if err != nil {
		return cliui.FailMark
	}
	if info.Size() > offset {
		return cliui.DimStyle.Render("…")
	}
	return cliui.SuccessMark
}
