package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-mailer/app/controller"
	grpcserver "github.com/vibast-solutions/ms-go-mailer/app/grpc"
	"github.com/vibast-solutions/ms-go-mailer/app/queue"
	"google.golang.org/grpc"
)

const healthProbeInterval = 15 * time.Second

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start the HTTP enqueue API (Echo) and the gRPC health service. With --worker an email consumer runs in the same process.",
	Run:   runServe,
}

// init registers the serve command.
func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "worker", false, "also run an email consumer in this process")
	rootCmd.AddCommand(serveCmd)
}

// runServe wires dependencies and starts HTTP and gRPC servers.
func runServe(_ *cobra.Command, _ []string) {
	d, err := bootstrap(context.Background())
	if err != nil {
		fatal(err)
	}
	defer d.Close()

	if err := d.withEmail(context.Background()); err != nil {
		d.log.Fatalf("Failed to build email pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := queue.NewEmailProducer(d.stream(), d.cfg.StreamName)
	emailController := controller.NewEmailController(producer, d.engine, d.email, d.log)
	healthReporter := grpcserver.NewHealthReporter(d.email, healthProbeInterval, d.log)

	e := setupHTTPServer(emailController, d.registry)
	grpcServer, lis, err := setupGRPCServer(net.JoinHostPort(d.cfg.GRPCHost, d.cfg.GRPCPort), healthReporter)
	if err != nil {
		d.log.Fatalf("Failed to listen on gRPC port: %v", err)
	}

	go healthReporter.Run(ctx)

	go func() {
		httpAddr := net.JoinHostPort(d.cfg.HTTPHost, d.cfg.HTTPPort)
		d.log.Infof("Starting HTTP server on %s", httpAddr)
		if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Fatalf("HTTP server error: %v", err)
		}
	}()

	go func() {
		d.log.Infof("Starting gRPC server on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			d.log.Fatalf("gRPC server error: %v", err)
		}
	}()

	workerDone := make(chan struct{})
	if serveWithWorker {
		consumer, err := d.newConsumer("")
		if err != nil {
			d.log.Fatalf("Invalid consumer configuration: %v", err)
		}
		go func() {
			defer close(workerDone)
			if err := consumer.Run(ctx); err != nil {
				d.log.Errorf("Consumer error: %v", err)
			}
		}()
	} else {
		close(workerDone)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	d.log.Info("Shutting down...")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		d.log.Errorf("HTTP shutdown error: %v", err)
	}
	grpcServer.GracefulStop()

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		d.log.Warn("Consumer did not stop before the shutdown deadline")
	}

	d.log.Info("Server stopped")
}

// setupHTTPServer configures the Echo HTTP server and routes.
func setupHTTPServer(emailController *controller.EmailController, registry *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	email := e.Group("/email")
	email.POST("/queue", emailController.QueueEmail)

	e.GET("/health", emailController.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return e
}

// setupGRPCServer builds the gRPC server and listener.
func setupGRPCServer(addr string, healthReporter *grpcserver.HealthReporter) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	grpcServer := grpc.NewServer()
	healthReporter.Register(grpcServer)

	return grpcServer, lis, nil
}
