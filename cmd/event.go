package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/notification"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Publish test workflow events through the configured notification deliverers`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a test transition event",
	Long:  `Publish a synthetic application transition to the event bus and deliver it to the configured webhook and NATS subject`,
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent()
	},
}

var (
	eventFrom   string
	eventTo     string
	eventLevel  string
	eventAmount float64
)

func publishTestEvent() {
	cfg, err := loadConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg := logger.LoggerWrapper()

	deliverers, nc, err := initDeliverers(cfg.Notification, lg)
	if err != nil {
		lg.Error("failed to set up deliverers", "error", err)
		os.Exit(1)
	}
	if nc != nil {
		defer nc.Close()
	}
	dispatcher := notification.NewDispatcher(notification.Config{MaxWorkers: 1, QueueSize: 4, DeliveryTimeout: cfg.Notification.WebhookTimeout}, lg, deliverers...)

	bus := events.NewEventBus(lg)
	bus.Subscribe(events.EventTypeApplicationTransition, func(ctx context.Context, event events.Event) error {
		lg.Info("test handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		dispatcher.Enqueue(notification.FromEvent(event))
		return nil
	})

	var amount *float64
	if eventAmount > 0 {
		amount = &eventAmount
	}
	testEvent := events.NewApplicationTransitionEvent(uuid.NewString(), "APP-TEST-0001", "cli", eventFrom, eventTo, "cli", eventLevel, amount)

	lg.Info("publishing test event", "event_type", testEvent.EventType(), "event_id", testEvent.EventID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bus.PublishSync(ctx, testEvent); err != nil {
		lg.Error("failed to publish event", "error", err)
		return
	}

	// give the worker a chance to deliver before shutting the pool down
	time.Sleep(500 * time.Millisecond)
	dispatcher.Shutdown()
	lg.Info("test event published successfully")
}

func init() {
	publishEventCmd.Flags().StringVar(&eventFrom, "from", "PENDING_FACTORY", "status before the transition")
	publishEventCmd.Flags().StringVar(&eventTo, "to", "PENDING_DIRECTOR", "status after the transition")
	publishEventCmd.Flags().StringVar(&eventLevel, "level", "FACTORY", "approval level that acted")
	publishEventCmd.Flags().Float64Var(&eventAmount, "amount", 0, "application amount")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
