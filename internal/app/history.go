package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"dyncron/internal/config"
	"dyncron/internal/storage"
	logx "dyncron/pkg/logx"
)

// PrintHistory writes the most recent recorded runs from the store configured
// in cfgPath. An empty taskID lists every task.
func PrintHistory(ctx context.Context, w io.Writer, cfgPath, taskID string, limit int) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if !enabled {
		return fmt.Errorf("run history: %w", storage.ErrDisabled)
	}
	store, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RecentRuns(ctx, taskID, limit)
	if err != nil {
		return fmt.Errorf("read run history: %w", err)
	}
	return writeRuns(w, runs)
}

func writeRuns(w io.Writer, runs []storage.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIRED\tTASK\tCRON\tSTATUS\tTOOK\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Fired.Format(time.RFC3339),
			r.TaskID,
			r.Cron,
			r.Status,
			r.Duration.Round(time.Millisecond),
			r.Error,
		)
	}
	return tw.Flush()
}
