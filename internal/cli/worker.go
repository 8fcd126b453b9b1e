package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/dreamdiary/coin-market/internal/events"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume account-created events and run scheduled reconciliation",
	Long: `worker grants the signup bonus for every account-created event on the
configured Redis stream and periodically reconciles account balances
against the coin ledger.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runBackground(ctx, a)
}

// runBackground runs the event consumer and the reconciliation schedule until ctx ends
func runBackground(ctx context.Context, a *app) error {
	scheduler := cron.New()
	if a.cfg.Worker.ReconcileSchedule != "" {
		_, err := scheduler.AddFunc(a.cfg.Worker.ReconcileSchedule, func() {
			if _, err := a.service.Reconcile(ctx); err != nil {
				a.log.WithError(err).Error("Scheduled reconciliation failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid reconcile schedule %q: %w", a.cfg.Worker.ReconcileSchedule, err)
		}
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	consumer := events.NewRedisConsumer(client, a.service, events.ConsumerConfig{
		Stream:       a.cfg.Redis.Stream,
		Group:        a.cfg.Redis.Group,
		Consumer:     a.cfg.Redis.Consumer,
		ClaimMinIdle: a.cfg.Redis.ClaimMinIdle,
	}, a.log)
	return consumer.Run(ctx)
}
