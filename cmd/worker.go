package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/approval-workflow/internal/notification"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that consume workflow notifications.`,
}

var notificationWorkerCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Consume workflow notifications from NATS",
	Long:  `Subscribe to the configured NATS subject and log every workflow notification received`,
	Run: func(cmd *cobra.Command, args []string) {
		startNotificationWorker()
	},
}

var (
	natsURL     string
	natsSubject string
)

func startNotificationWorker() {
	config, err := loadConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Configure(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	url := getStringFlag(natsURL, config.Notification.NATSURL)
	subject := getStringFlag(natsSubject, config.Notification.NATSSubject)
	if url == "" {
		lg.Error("nats url is not configured")
		os.Exit(1)
	}

	nc, err := notification.ConnectNATS(url, lg)
	if err != nil {
		lg.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("notification worker is running. Press Ctrl+C to stop.", "subject", subject)

	err = notification.Consume(ctx, nc, subject, lg, func(ctx context.Context, env notification.Envelope) error {
		lg.Info("workflow notification received",
			"event_id", env.ID,
			"event_type", env.Type,
			"occurred_at", env.OccurredAt,
			"data", env.Data)
		return nil
	})
	if err != nil {
		lg.Error("notification worker stopped", "error", err)
		os.Exit(1)
	}
	lg.Info("notification worker shutdown complete")
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func init() {
	notificationWorkerCmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides config)")
	notificationWorkerCmd.Flags().StringVar(&natsSubject, "subject", "", "NATS subject (overrides config)")

	workerCmd.AddCommand(notificationWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
