package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lowforge/internal/watch"
)

var watchHumanInLoop bool

// watchCmd runs the request-directory watcher until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and run request files as they appear",
	Long: `Watches a directory for request YAML files and runs each one through
the full workflow. Processed files are renamed with a .done or .failed
suffix so reruns never pick them up again. Files already present at
startup are processed first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: watchRequests,
}

func init() {
	watchCmd.Flags().BoolVar(&watchHumanInLoop, "human-in-loop", false, "Leave mid-confidence solutions pending for review")
}

func watchRequests(cmd *cobra.Command, args []string) error {
	dir := cfg.Watch.Dir
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		return fmt.Errorf("no watch directory: pass one or set watch.dir in the config")
	}

	rt, err := newAppRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("Watching for requests",
		zap.String("dir", dir), zap.Duration("debounce", cfg.GetWatchDebounce()))
	w := watch.New(dir, cfg.GetWatchDebounce(), rt.orch, watchHumanInLoop)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Watcher stopped")
	return nil
}
