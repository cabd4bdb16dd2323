package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homeside-repairs/estimate-worker/internal/ingest"
	"github.com/homeside-repairs/estimate-worker/internal/mail"
	"github.com/homeside-repairs/estimate-worker/internal/pipeline"
	"github.com/homeside-repairs/estimate-worker/pkg/anthropic"
	"github.com/homeside-repairs/estimate-worker/pkg/mailer"
)

var (
	workMaxJobs int
	workPoll    time.Duration
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Claim and process estimate jobs until the queue is empty",
	Long: `Drains the job queue and exits, making it safe to run from cron with
overlapping invocations: coordination happens entirely through the job table.
With --poll the command keeps running and re-checks the queue on an interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (ESTIMATOR_ANTHROPIC_KEY)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		var notifier pipeline.Notifier
		if cfg.Delivery.Key != "" {
			opts := []mailer.Option{}
			if cfg.Delivery.BaseURL != "" {
				opts = append(opts, mailer.WithBaseURL(cfg.Delivery.BaseURL))
			}
			notifier = mail.New(mailer.NewClient(cfg.Delivery.Key, opts...), cfg.Delivery)
		} else {
			zap.L().Warn("no delivery API key set; estimates will not be emailed")
		}

		p := pipeline.New(st,
			anthropic.NewClient(cfg.Anthropic.Key),
			ingest.New(cfg.Ingest),
			notifier, cfg)

		total := 0
		for {
			n, err := p.Run(ctx, remaining(workMaxJobs, total))
			total += n
			if err != nil {
				zap.L().Error("worker stopped", zap.Int("processed", total), zap.Error(err))
				return err
			}
			if workPoll <= 0 || (workMaxJobs > 0 && total >= workMaxJobs) {
				break
			}
			select {
			case <-ctx.Done():
				zap.L().Info("worker interrupted", zap.Int("processed", total))
				return nil
			case <-time.After(workPoll):
			}
		}

		zap.L().Info("queue drained", zap.Int("processed", total))
		return nil
	},
}

func remaining(max, done int) int {
	if max <= 0 {
		return 0
	}
	return max - done
}

func init() {
	workCmd.Flags().IntVar(&workMaxJobs, "max-jobs", 0, "stop after processing this many jobs (0 = no limit)")
	workCmd.Flags().DurationVar(&workPoll, "poll", 0, "keep running and re-check the queue on this interval (0 = exit when drained)")
	rootCmd.AddCommand(workCmd)
}
