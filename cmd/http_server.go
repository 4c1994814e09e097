package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/application"
	applicationPostgres "github.com/frahmantamala/approval-workflow/internal/application/postgres"
	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/guard"
	"github.com/frahmantamala/approval-workflow/internal/notification"
	"github.com/frahmantamala/approval-workflow/internal/routing"
	"github.com/frahmantamala/approval-workflow/internal/transport/middleware"
	"github.com/frahmantamala/approval-workflow/internal/transport/rest"
	"github.com/frahmantamala/approval-workflow/internal/user"
	userPostgres "github.com/frahmantamala/approval-workflow/internal/user/postgres"
	"github.com/frahmantamala/approval-workflow/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	DB         *sqlx.DB
	Gorm       *gorm.DB
	NATS       *nats.Conn
	EventBus   *events.EventBus
	Dispatcher *notification.Dispatcher
	Router     *chi.Mux
	Logger     *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := setupRoutes(deps); err != nil {
		deps.Logger.Error("failed to set up routes", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		deps.close(ctx)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

// close releases dependencies in reverse order of use: pending bus handlers may still
// enqueue notifications, and the dispatcher may still publish to NATS.
func (d *Dependencies) close(ctx context.Context) {
	if err := d.EventBus.Close(ctx); err != nil {
		d.Logger.Warn("event bus did not drain", "error", err)
	}
	if d.Dispatcher != nil {
		d.Dispatcher.Shutdown()
	}
	if d.NATS != nil {
		if err := d.NATS.Drain(); err != nil {
			d.Logger.Warn("nats drain error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

func setupRoutes(deps *Dependencies) error {
	cfg := deps.Config

	userRepo := userPostgres.NewRepository(deps.DB)
	userService := user.NewService(userRepo, deps.Logger)

	lock := guard.New(guard.Config{
		MaxRetries:  cfg.Workflow.ConflictRetries,
		Backoff:     cfg.Workflow.ConflictBackoff,
		LockTimeout: cfg.Workflow.LockTimeout,
	}, deps.Logger)
	resolver := routing.NewResolver(userService, deps.Logger)
	appRepo := applicationPostgres.NewApplicationRepository(deps.Gorm)
	appService := application.NewService(appRepo, lock, resolver, deps.EventBus, deps.Logger,
		application.Config{ApplicationNoPrefix: cfg.Workflow.ApplicationNoPrefix})

	if deps.Dispatcher != nil {
		notifier := notification.NewNotifier(deps.Dispatcher, userService, cfg.Workflow.LargeAmountThreshold, deps.Logger)
		notifier.Register(deps.EventBus)
	}

	tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.AccessTokenDuration)

	checks := map[string]rest.Checker{"postgres": deps.DB}
	if deps.NATS != nil {
		nc := deps.NATS
		checks["nats"] = rest.CheckerFunc(func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection is %s", status)
			}
			return nil
		})
	}

	handlers := rest.Handlers{
		Auth:        auth.NewHandler(tokens, userService),
		RBAC:        auth.NewRBACAuthorization(deps.Logger),
		User:        user.NewHandler(userService),
		Application: application.NewHandler(appService),
		Health:      rest.NewHealthHandler(checks),
	}
	if cfg.Server.OpenAPIValidation {
		validator, err := middleware.LoadOpenAPIValidator(cfg.Server.OpenAPISpecPath, deps.Logger)
		if err != nil {
			return err
		}
		handlers.OpenAPI = validator
	}

	rest.RegisterAllRoutes(deps.Router, handlers, rest.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SpecPath:       cfg.Server.OpenAPISpecPath,
	}, deps.Logger)
	return nil
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Configure(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	deps := &Dependencies{
		Config:   config,
		Logger:   lg,
		DB:       db,
		Gorm:     gdb,
		EventBus: events.NewEventBus(lg),
		Router:   chi.NewRouter(),
	}

	if config.Notification.Enabled {
		deliverers, nc, err := initDeliverers(config.Notification, lg)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		deps.NATS = nc
		deps.Dispatcher = notification.NewDispatcher(notification.Config{
			MaxWorkers:      config.Notification.MaxWorkers,
			QueueSize:       config.Notification.QueueSize,
			DeliveryTimeout: config.Notification.WebhookTimeout,
		}, lg, deliverers...)
	}

	return deps, nil
}

func initDeliverers(cfg internal.NotificationConfig, lg *slog.Logger) ([]notification.Deliverer, *nats.Conn, error) {
	var deliverers []notification.Deliverer
	if cfg.WebhookURL != "" {
		deliverers = append(deliverers, notification.NewWebhookDeliverer(cfg.WebhookURL, cfg.WebhookTimeout, lg))
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		conn, err := notification.ConnectNATS(cfg.NATSURL, lg)
		if err != nil {
			return nil, nil, err
		}
		nc = conn
		deliverers = append(deliverers, notification.NewNATSDeliverer(nc, cfg.NATSSubject))
	}

	if len(deliverers) == 0 {
		lg.Warn("notifications enabled but no webhook_url or nats_url configured")
	}
	return deliverers, nc, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm wraps the sqlx pool so both share one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
		TranslateError: true,
	})
}
