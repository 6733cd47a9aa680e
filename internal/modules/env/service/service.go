package service

import (
	"context"
	"log/slog"
	"time"

	"envmon/internal/modules/env/repository"
	"envmon/internal/modules/env/types"
	"envmon/internal/recovery"
	"envmon/internal/sensor"
)

const (
	initialOpenBackoff = 1 * time.Second
	maxOpenBackoff     = 60 * time.Second
)

// Publisher forwards readings to an external broker. May be nil when
// publishing is disabled.
type Publisher interface {
	PublishReading(types.Reading) error
}

// Service runs the acquisition loop: poll the sensor channel, decode frames,
// detect stale output, and persist accepted readings.
type Service struct {
	channel      sensor.Channel
	decoder      *sensor.Decoder
	recovery     *recovery.Controller
	repository   repository.ReadingRepository
	publisher    Publisher
	logger       *slog.Logger
	pollInterval time.Duration
}

func NewService(
	channel sensor.Channel,
	recoveryController *recovery.Controller,
	repo repository.ReadingRepository,
	publisher Publisher,
	logger *slog.Logger,
	pollInterval time.Duration,
) *Service {
	return &Service{
		channel:      channel,
		decoder:      &sensor.Decoder{},
		recovery:     recoveryController,
		repository:   repo,
		publisher:    publisher,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// Run polls the channel until ctx is cancelled. The channel is opened with
// exponential backoff and reopened after read failures or hardware recovery.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.channel.Close(); err != nil {
			s.logger.Warn("channel close failed", "error", err)
		}
	}()

	if err := s.openWithBackoff(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("acquisition loop stopping")
			return nil
		case <-ticker.C:
		}

		n, err := s.channel.Read(buf)
		if err != nil {
			s.logger.Warn("channel read failed, reopening", "error", err)
			if err := s.reopen(ctx); err != nil {
				return err
			}
			continue
		}
		if n == 0 {
			continue
		}

		s.decoder.Feed(buf[:n])
		if err := s.drain(ctx); err != nil {
			return err
		}
	}
}

// drain decodes every complete frame currently buffered.
func (s *Service) drain(ctx context.Context) error {
	for {
		reading, status := s.decoder.Next(time.Now().UTC())
		switch status {
		case sensor.StatusIncomplete:
			return nil
		case sensor.StatusRejected:
			s.logger.Debug("rejected corrupt frame", "buffered", s.decoder.Buffered())
		case sensor.StatusDecoded:
			if err := s.handleReading(ctx, reading); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Service) handleReading(ctx context.Context, reading types.Reading) error {
	if !s.recovery.Observe(ctx, reading) {
		// A hardware reset was attempted; the old descriptor is stale.
		s.logger.Info("reading suppressed after recovery, reopening channel")
		return s.reopen(ctx)
	}

	if err := s.repository.Insert(reading); err != nil {
		s.logger.Error("failed to store reading", "error", err)
		return nil
	}
	s.logger.Debug("stored reading",
		"timestamp", reading.Timestamp,
		"temperature_c", reading.Temperature,
		"humidity_pct", reading.Humidity,
	)

	if pruned, err := s.repository.Prune(repository.RetentionWindow); err != nil {
		s.logger.Warn("prune failed", "error", err)
	} else if pruned > 0 {
		s.logger.Debug("pruned expired readings", "rows", pruned)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishReading(reading); err != nil {
			s.logger.Warn("publish failed", "error", err)
		}
	}
	return nil
}

func (s *Service) reopen(ctx context.Context) error {
	if err := s.channel.Close(); err != nil {
		s.logger.Warn("channel close failed", "error", err)
	}
	return s.openWithBackoff(ctx)
}

func (s *Service) openWithBackoff(ctx context.Context) error {
	backoff := initialOpenBackoff
	for {
		err := s.channel.Open()
		if err == nil {
			s.logger.Info("sensor channel open")
			return nil
		}
		s.logger.Warn("failed to open sensor channel", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxOpenBackoff {
			backoff = maxOpenBackoff
		}
	}
}
