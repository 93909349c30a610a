package app

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"dyncron/internal/config"
	"dyncron/internal/cronexpr"
)

// previewCount is how many upcoming fire times CheckConfig shows per task.
const previewCount = 3

// CheckConfig validates the config file and prints each task with its next
// fire times. It returns an error if any task would not be scheduled.
func CheckConfig(w io.Writer, cfgPath string, now time.Time) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	ss, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := mapExecutorConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}

	eval := cronexpr.New(ss.loc)
	bad := 0
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TASK\tCRON\tNEXT (%s)\n", ss.loc)
	for _, tc := range cfg.Tasks {
		next, err := eval.Preview(tc.Cron, now, previewCount)
		switch {
		case err != nil:
			bad++
			fmt.Fprintf(tw, "%s\t%s\terror: %v\n", tc.ID, tc.Cron, err)
		case len(next) == 0:
			fmt.Fprintf(tw, "%s\t%s\tnever\n", tc.ID, tc.Cron)
		default:
			fmt.Fprintf(tw, "%s\t%s\t%s\n", tc.ID, tc.Cron, cronexpr.FormatPreview(next))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d tasks have an unusable cron expression", bad, len(cfg.Tasks))
	}
	return nil
}
