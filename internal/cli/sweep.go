package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zhima-Mochi/minibilling/internal/application/sweep"
	"github.com/Zhima-Mochi/minibilling/internal/config"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "sweep <payment|retry|validation>",
		Short:     "Run one sweep under the scheduler lock and print its report",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{sweep.NamePayment, sweep.NameRetry, sweep.NameValidation},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			report, err := a.runSweep(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

// runSweep executes one sweep through the scheduler so it shares the execution lock and
// run log with scheduled runs, then waits for its notifications to be delivered.
func (a *app) runSweep(ctx context.Context, name string) (sweep.Report, error) {
	if err := a.registerJobs(true); err != nil {
		return sweep.Report{}, err
	}

	a.startBackground(ctx)
	report, err := a.scheduler.RunNow(ctx, name)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	a.stopBackground(drainCtx)

	if err != nil {
		return report, fmt.Errorf("sweep %s: %w", name, err)
	}
	return report, nil
}
