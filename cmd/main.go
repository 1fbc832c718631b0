package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "factory_device/docs"
	"factory_device/internal/config"
	"factory_device/internal/handlers"
	"factory_device/internal/logger"
	"factory_device/internal/property"
	"factory_device/internal/repository"
	"factory_device/internal/repository/db"
	"factory_device/internal/server"
	"factory_device/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "configs/config.yml"
	shutdownTimeout   = 10 * time.Second
)

// rootOptions holds the command line flags.
type rootOptions struct {
	configPath string
	logLevel   string
}

// @title                       Factory device console
// @version                     1.0
// @description                 Local console of the simulated production device.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "factory-device [iothub|iotcentral|both]",
		Short: "Simulated factory production device",
		Long: "Runs a simulated production device against the control plane.\n\n" +
			"  iothub      X.509 certificate connection\n" +
			"  iotcentral  connection string connection\n" +
			"  both        connection string primary, telemetry mirrored over X.509 (default)",
		ValidArgs:    []string{config.ModeIoTHub, config.ModeIoTCentral, config.ModeBoth},
		Args:         cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to the YAML config file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error); overrides logging.level")

	return cmd
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig(opts *rootOptions, args []string) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		cfg.Transport.Mode = args[0]
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, opts *rootOptions, args []string) error {
	cfg, err := loadConfig(opts, args)
	if err != nil {
		return err
	}

	log := logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = log.Sync() }()
	if cfg.Logging.Level != logger.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("sqlite_close_failed", "err", cerr)
		}
	}()

	conn, deviceID, err := connect(cfg, log)
	if err != nil {
		log.Errorw("connect_failed", "mode", cfg.Transport.Mode, "err", err)
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Warnw("connection_close_failed", "err", cerr)
		}
	}()
	log.Infow("device_connected", "mode", cfg.Transport.Mode, "device_id", deviceID)

	sinks, closeSinks := openSinks(cfg, log)
	defer closeSinks()

	services := service.NewService(service.Deps{
		DeviceID:       deviceID,
		Store:          property.New(nil),
		Conn:           conn,
		Repos:          repository.NewRepository(sqlDB),
		Sinks:          sinks,
		Log:            log,
		Rand:           newRand(cfg.Device.Seed),
		RetryInterval:  cfg.Reporter.RetryInterval,
		PushTimeout:    cfg.Reporter.PushTimeout,
		ReceiveTimeout: cfg.Transport.ReceiveTimeout,
		SigningKey:     cfg.Auth.SigningKey,
		TokenTTL:       cfg.Auth.TokenTTL,
	})

	if err := services.Reconciler.Listen(ctx); err != nil {
		return fmt.Errorf("register desired handler: %w", err)
	}
	if _, err := services.Reconciler.Sync(ctx); err != nil {
		log.Warnw("initial_sync_failed", "err", err)
	}

	var wg sync.WaitGroup
	for _, w := range []service.Worker{services.Simulator, services.Receiver, services.Reporter} {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	srv := server.New(cfg.HTTP.Port, handlers.NewHandler(services, log).InitRoutes())
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run() }()
	log.Infow("http_server_started", "addr", srv.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		if runErr != nil {
			log.Errorw("http_server_failed", "err", runErr)
			runErr = fmt.Errorf("http server: %w", runErr)
		}
	}

	log.Infow("shutting_down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http_shutdown_failed", "err", err)
	}
	wg.Wait()
	log.Infow("stopped")
	return runErr
}

// newRand returns the simulator's random source. Seed 0 seeds from the clock.
func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
