// Package watchcmder provides the watch command, which tails a directory of
// JSONL transcripts and forwards each message to a running recall server.
package watchcmder

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/client"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/dotdir"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/transcript"
)

const defaultSaveInterval = 10 * time.Second

type WatchCommander struct {
	dir          string
	apiTarget    string
	configDir    string
	reset        bool
	once         bool
	debug        bool
	saveInterval time.Duration

	logger *slog.Logger
}

const watchLongDesc string = `Watch a directory of JSONL transcripts.

Every line of a *.jsonl file is one message:

  {"conversation_id": "slack:C042", "sender": "alice", "content": "..."}

New lines are sent to the recall server's message buffer as they are
appended. Read positions are saved in .recall/watch.json so a restarted
watcher picks up where it left off.

Examples:
  recall watch ./transcripts
  recall watch ./transcripts --once
  recall watch ./transcripts --reset --api-target http://recall.internal:8787`

const watchShortDesc string = "Forward transcript files to a recall server"

func NewWatchCmd() *cobra.Command {
	cmder := &WatchCommander{}

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: watchShortDesc,
		Long:  watchLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %w", err)
			}

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
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.dir = args[0]
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.logger = logger.New(logger.WithDebug(cmder.debug), logger.WithPretty(true))
			return cmder.run(cmd.Context())
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Recall API server URL")
	cmd.Flags().BoolVar(&cmder.reset, "reset", false, "Forget saved read positions and resend every transcript")
	cmd.Flags().BoolVar(&cmder.once, "once", false, "Send what is new and exit instead of watching")
	cmd.Flags().DurationVar(&cmder.saveInterval, "save-interval", defaultSaveInterval, "How often read positions are saved while watching")

	return cmd
}

func (c *WatchCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger = logger.OrNop(c.logger)

	manager := dotdir.NewManager()
	if c.reset {
		if err := manager.ClearWatchState(c.configDir); err != nil {
			return err
		}
	}

	state, err := manager.LoadWatchState(c.configDir)
	if err != nil {
		return err
	}

	cl, err := client.New(c.apiTarget, nil)
	if err != nil {
		return err
	}
	if err := cl.Ping(ctx); err != nil {
		return fmt.Errorf("recall server not reachable: %w", err)
	}

	watcher, err := transcript.New(transcript.Config{
		Dir:     c.dir,
		Sink:    cl.AddMessage,
		Retry:   client.IsRetryable,
		Offsets: state.Offsets,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}

	save := func() {
		state.Offsets = watcher.Offsets()
		if err := manager.SaveWatchState(state, c.configDir); err != nil {
			c.logger.Error("saving watch state", "error", err)
		}
	}

	if c.once {
		err := watcher.Scan(ctx)
		save()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- watcher.Run(ctx)
	}()

	interval := c.saveInterval
	if interval <= 0 {
		interval = defaultSaveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errChan:
			save()
			return err
		case <-ticker.C:
			save()
		}
	}
}
