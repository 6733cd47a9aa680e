package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"envmon/internal/config"
	"envmon/internal/db"
	"envmon/internal/httpapi"
	"envmon/internal/migrate"
	env "envmon/internal/modules/env"
	"envmon/internal/modules/env/repository"
	"envmon/internal/modules/env/service"
	envviews "envmon/internal/modules/env/views"
	"envmon/internal/mqtt"
	"envmon/internal/recovery"
	"envmon/internal/sensor"
)

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.DBDriver,
		"sqlitePath", cfg.SQLitePath,
		"dbMaxOpenConns", cfg.DBMaxOpenConns,
		"dbMaxIdleConns", cfg.DBMaxIdleConns,
		"dbConnMaxLifetime", cfg.DBConnMaxLifetime,
		"sensorPort", cfg.SensorPort,
		"sensorMock", cfg.SensorMock,
		"sensorPollInterval", cfg.SensorPollInterval,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
	)

	dbConn, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := db.Close(dbConn)
		if closeErr != nil {
			slog.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(dbConn); err != nil {
		return err
	}

	var ok int
	err = dbConn.QueryRow(`SELECT 1`).Scan(&ok)
	if err != nil {
		return err
	}
	if ok != 1 {
		return errors.New("database connection failed")
	}
	slog.Info("database connection successful")

	if err := envviews.LoadTemplates(); err != nil {
		return err
	}

	repo := repository.NewRepository(dbConn)

	var channel sensor.Channel
	if cfg.SensorMock {
		slog.Info("using simulated sensor channel")
		channel = sensor.NewSimChannel(time.Now().UnixNano())
	} else {
		channel = sensor.NewSerialChannel(cfg.SensorPort)
	}

	resetter := recovery.NewUSBResetter(slog.Default())
	recoveryController := recovery.NewController(resetter, slog.Default())

	var publisher service.Publisher
	var mqttPublisher *mqtt.Publisher
	if cfg.MQTTBroker != "" {
		mqttPublisher = mqtt.NewPublisher(cfg, slog.Default())
		// Use a short timeout for initial MQTT connect so we don't block startup when broker is down.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = mqttPublisher.Connect(connectCtx)
		connectCancel()
		if err != nil {
			slog.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
		publisher = mqttPublisher
	}

	svc := service.NewService(channel, recoveryController, repo, publisher, slog.Default(), cfg.SensorPollInterval)

	mux := httpapi.NewMux(dbConn)
	env.RegisterFeature(mux, repo)

	srv := httpapi.NewServer(cfg, mux)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel()
	svcErrCh := make(chan error, 1)
	go func() {
		svcErrCh <- svc.Run(svcCtx)
	}()

	select {
	case <-ctx.Done():
	case err := <-svcErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("acquisition loop failed", "error", err)
		}
		// HTTP stays up so stored data remains queryable; wait for shutdown.
		<-ctx.Done()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svcCancel()

	if mqttPublisher != nil {
		slog.Info("mqtt disconnecting")
		mqttPublisher.Disconnect()
	}

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
