package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-donations/app/controller"
	donationgrpc "github.com/vibast-solutions/ms-go-donations/app/grpc"
	"github.com/vibast-solutions/ms-go-donations/app/metrics"
	"github.com/vibast-solutions/ms-go-donations/app/provider"
	"github.com/vibast-solutions/ms-go-donations/app/repository"
	"github.com/vibast-solutions/ms-go-donations/app/service"
	"github.com/vibast-solutions/ms-go-donations/config"

	"cloud.google.com/go/firestore"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
)

const requestBodyLimit = "1M"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the donations service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	var (
		reg *prometheus.Registry
		m   *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	donationService, cleanup, err := newDonationService(context.Background(), cfg, newProviderRegistry(cfg), m)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create donation service")
	}
	defer cleanup()

	donationController := controller.NewDonationController(donationService, cfg.App.Environment)
	grpcDonationServer := donationgrpc.NewServer(donationService, cfg.App.Environment)

	e := setupHTTPServer(cfg, donationController, reg)
	grpcSrv, lis := setupGRPCServer(cfg, grpcDonationServer)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithFields(logrus.Fields{
			"addr":        httpAddr,
			"environment": cfg.App.Environment,
			"storage":     cfg.Storage.Driver,
		}).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(cfg *config.Config, donationController *controller.DonationController, reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.HTTP.ReadTimeout
	e.Server.WriteTimeout = cfg.HTTP.WriteTimeout

	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.BodyLimit(requestBodyLimit))

	e.GET("/health", donationController.Health)
	if reg != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	api := e.Group("/api")

	// Checkout is called from the donation page; webhooks are server-to-server.
	donations := api.Group("/donations", echomiddleware.CORS())
	donations.POST("/checkout", donationController.CreateCheckout)
	donations.GET("/:id", donationController.GetDonation)
	donations.GET("/:id/events", donationController.ListDonationEvents)

	webhooks := api.Group("/webhooks")
	webhooks.POST("/:provider", donationController.HandleWebhook)

	return e
}

func setupGRPCServer(cfg *config.Config, donationServer *donationgrpc.Server) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			donationgrpc.RecoveryInterceptor(),
			donationgrpc.RequestIDInterceptor(),
			donationgrpc.LoggingInterceptor(),
		),
	)
	donationgrpc.RegisterDonationsServer(grpcSrv, donationServer)

	return grpcSrv, lis
}

// newProviderRegistry registers a provider once its account id is configured.
// The sandbox registers both so the flow can be exercised without accounts.
func newProviderRegistry(cfg *config.Config) *provider.Registry {
	var providers []provider.Provider

	if cfg.PayPay.MerchantID != "" || cfg.IsSandbox() {
		providers = append(providers, provider.NewPayPayProvider(provider.PayPayConfig{
			MerchantID:      cfg.PayPay.MerchantID,
			WebhookSecret:   cfg.PayPay.WebhookSecret,
			CheckoutBaseURL: cfg.PayPay.CheckoutBaseURL,
			SessionTTL:      cfg.PayPay.SessionTTL,
		}))
	}
	if cfg.Rakuten.ServiceID != "" || cfg.IsSandbox() {
		providers = append(providers, provider.NewRakutenProvider(provider.RakutenConfig{
			ServiceID:       cfg.Rakuten.ServiceID,
			WebhookSecret:   cfg.Rakuten.WebhookSecret,
			CheckoutBaseURL: cfg.Rakuten.CheckoutBaseURL,
			SessionTTL:      cfg.Rakuten.SessionTTL,
		}))
	}

	for _, p := range providers {
		logrus.WithField("provider", p.Code()).Info("Payment provider enabled")
	}
	return provider.NewRegistry(providers...)
}

func newDonationService(ctx context.Context, cfg *config.Config, registry *provider.Registry, m *metrics.Metrics) (*service.DonationService, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logrus.Warn("Using in-memory storage; donations are lost on restart")
		svc, err := service.NewDonationService(
			repository.NewMemoryDonationRepository(),
			repository.NewMemoryPaymentEventRepository(),
			registry,
			cfg.Donations,
			m,
		)
		return svc, func() {}, err

	case config.StorageMySQL:
		db, err := openMySQL(ctx, cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := db.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close database")
			}
		}

		svc, err := service.NewDonationService(
			repository.NewDonationRepository(db),
			repository.NewPaymentEventRepository(db),
			registry,
			cfg.Donations,
			m,
		)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return svc, cleanup, nil

	case config.StorageFirestore:
		client, err := newFirestoreClient(ctx, cfg.Firestore)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close Firestore client")
			}
		}

		svc, err := service.NewDonationService(
			repository.NewFirestoreDonationRepository(client),
			repository.NewFirestorePaymentEventRepository(client),
			registry,
			cfg.Donations,
			m,
		)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return svc, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func openMySQL(ctx context.Context, cfg config.MySQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func newFirestoreClient(ctx context.Context, cfg config.FirestoreConfig) (*firestore.Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id not configured")
	}

	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		if err := os.Setenv("FIRESTORE_EMULATOR_HOST", host); err != nil {
			return nil, fmt.Errorf("failed to set FIRESTORE_EMULATOR_HOST: %w", err)
		}
	}

	var opts []option.ClientOption
	if credentials := strings.TrimSpace(cfg.CredentialsFile); credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}

	return firestore.NewClient(ctx, projectID, opts...)
}
