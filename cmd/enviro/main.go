package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/api"
	"github.com/arqiarkaan/enviro-dashboard/internal/config"
	"github.com/arqiarkaan/enviro-dashboard/internal/dashboard"
	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/history"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	"github.com/arqiarkaan/enviro-dashboard/internal/metrics"
	"github.com/arqiarkaan/enviro-dashboard/internal/pid"
	"github.com/arqiarkaan/enviro-dashboard/internal/telemetry"
)

const (
	shutdownTimeout   = 10 * time.Second
	reconnectInterval = 15 * time.Second
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Printf("invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	pidPath := pid.Path(cfg.PIDFile)
	if err := pid.Write(pidPath); err != nil {
		var e errors.Error
		if errors.As(err, &e) {
			logger.FatalWithCode(e).Str("pid_file", pidPath).Msg("Failed to acquire PID file")
		}
		logger.Fatal().Err(err).Msg("Failed to acquire PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	err := run(ctx)
	cancel()

	if rmErr := pid.Remove(pidPath); rmErr != nil {
		logger.Error().Err(rmErr).Msg("Failed to remove PID file")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Dashboard exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context) error {
	loc, err := cfg.GetLocation()
	if err != nil {
		return err
	}

	recorder, err := telemetry.NewService(telemetry.Config{
		DBPath:          cfg.Telemetry.DBPath,
		Enabled:         cfg.Telemetry.Enabled,
		BatchSize:       cfg.Telemetry.BatchSize,
		BatchTimeout:    cfg.Telemetry.BatchTimeout,
		BackupOnMigrate: true,
	}, logger.New("telemetry"))
	if err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close history store")
		}
	}()

	mqttFeed := feed.NewMQTT(feed.MQTTConfig{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
	}, logger.New("feed"))
	defer mqttFeed.Close()

	reg := metrics.NewRegistry()
	dash := dashboard.New(dashboard.Config{
		FetchLimit: cfg.History.FetchLimit,
		Window:     history.SampleCount(cfg.History.Window),
		StaleAfter: cfg.Feed.StaleAfter,
		ExportDir:  cfg.History.ExportDir,
	}, dashboard.Deps{
		Feed:     mqttFeed,
		History:  mqttFeed,
		Recorder: recorder,
		Location: loc,
		Observer: metrics.NewMetrics(reg),
		Log:      logger.New("dashboard"),
	})

	// Handlers are registered before connecting so retained snapshots
	// delivered right after CONNACK are not missed.
	if err := dash.Start(); err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}
	defer dash.Stop()

	if err := mqttFeed.Connect(ctx); err != nil {
		dash.ReportConnectError(err)
		logger.Warn().Err(err).Msg("MQTT connection failed, continuing without live data")
		go reconnect(ctx, mqttFeed)
	}

	go func() {
		if err := dash.LoadHistory(ctx); err != nil {
			logger.Warn().Err(err).Msg("Initial history load failed")
		}
	}()

	srv := api.NewServer(cfg.HTTP.Addr, dash, logger.New("api"),
		api.WithAccessLog(os.Stdout),
		api.WithMetrics(metrics.Handler(reg)),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info().Msg("HTTP shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// reconnect retries the initial broker connection until it succeeds. The
// client reconnects on its own once a first connection was made.
func reconnect(ctx context.Context, f *feed.MQTT) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Connect(ctx); err != nil {
				logger.Debug().Err(err).Msg("MQTT reconnect attempt failed")
				continue
			}
			logger.Info().Msg("MQTT connected after retry")
			return
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
