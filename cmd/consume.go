package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume queued messages",
	Long:  "Consume queued messages from Redis streams.",
}

// init registers consume subcommands.
func init() {
	consumeCmd.AddCommand(consumeEmailsCmd)
	rootCmd.AddCommand(consumeCmd)
}

var consumeEmailsCmd = &cobra.Command{
	Use:   "emails [consumer_name]",
	Short: "Start the email queue consumer",
	Long:  "Start a consumer-group worker that renders queued email jobs and sends them through the configured provider. Without a name, CONSUMER_ID or a random worker ID is used.",
	Args:  cobra.MaximumNArgs(1),
	Run:   runConsumeEmails,
}

// runConsumeEmails starts the email queue consumer worker.
func runConsumeEmails(_ *cobra.Command, args []string) {
	consumerName := ""
	if len(args) == 1 {
		consumerName = args[0]
	}

	d, err := bootstrap(context.Background())
	if err != nil {
		fatal(err)
	}
	defer d.Close()

	if err := d.withEmail(context.Background()); err != nil {
		d.log.Fatalf("Failed to build email pipeline: %v", err)
	}
	if !d.email.HealthCheck(context.Background()) {
		d.log.WithField("provider", d.email.ProviderName()).Warn("Email provider health check failed, starting anyway")
	}

	consumer, err := d.newConsumer(consumerName)
	if err != nil {
		d.log.Fatalf("Invalid consumer configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		d.log.Info("Received shutdown signal, stopping consumer...")
		cancel()
	}()

	if d.cfg.MetricsAddr != "" {
		metricsServer := setupMetricsServer(d)
		go func() {
			d.log.Infof("Starting metrics server on %s", d.cfg.MetricsAddr)
			if err := metricsServer.Start(d.cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.log.Errorf("Metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := consumer.Run(ctx); err != nil {
		d.log.Fatalf("Consumer error: %v", err)
	}

	stats := consumer.Stats()
	d.log.WithField("consumer", consumer.ConsumerID()).Infof("Consumer stopped: processed=%d retried=%d dead_lettered=%d",
		stats.Processed, stats.Retried, stats.DeadLettered)
}

// setupMetricsServer exposes /metrics for a standalone worker.
func setupMetricsServer(d *deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))
	return e
}

// fatal reports errors raised before a logger exists.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
