package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"envmon/internal/modules/env/repository"
	"envmon/internal/modules/env/types"
	"envmon/internal/recovery"
	"envmon/internal/sensor"
)

type memRepo struct {
	mu        sync.Mutex
	readings  []types.Reading
	insertErr error
}

func (m *memRepo) Insert(r types.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.readings = append(m.readings, r)
	return nil
}

func (m *memRepo) Latest() (types.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.readings) == 0 {
		return types.Reading{}, repository.ErrNoData
	}
	return m.readings[len(m.readings)-1], nil
}

func (m *memRepo) History(hours int) ([]types.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Reading, len(m.readings))
	copy(out, m.readings)
	return out, nil
}

func (m *memRepo) Prune(time.Duration) (int64, error) { return 0, nil }

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings)
}

func (m *memRepo) setInsertErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
}

type fakeResetter struct {
	calls atomic.Int32
}

func (f *fakeResetter) CutPower(ctx context.Context, d time.Duration) error {
	f.calls.Add(1)
	return nil
}

func (f *fakeResetter) RestorePower(ctx context.Context) error { return nil }

func (f *fakeResetter) WaitForDevice(ctx context.Context, timeout time.Duration) error { return nil }

type fakePublisher struct {
	calls atomic.Int32
	err   error
}

func (f *fakePublisher) PublishReading(types.Reading) error {
	f.calls.Add(1)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", d, msg)
}

func startService(t *testing.T, channel sensor.Channel, repo repository.ReadingRepository, resetter recovery.Resetter, pub Publisher) context.CancelFunc {
	t.Helper()
	ctrl := recovery.NewController(resetter, testLogger())
	svc := NewService(channel, ctrl, repo, pub, testLogger(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not stop after cancel")
		}
	})
	return cancel
}

func Test_Service_storesDecodedReadings(t *testing.T) {
	repo := &memRepo{}
	startService(t, sensor.NewSimChannel(1), repo, &fakeResetter{}, nil)

	waitFor(t, 5*time.Second, func() bool { return repo.count() >= 3 }, "3 readings stored")

	latest, err := repo.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Timestamp.IsZero() {
		t.Error("stored reading has zero timestamp")
	}
	if latest.Pressure < 900 || latest.Pressure > 1100 {
		t.Errorf("pressure = %v; want plausible hPa", latest.Pressure)
	}
}

func Test_Service_publishesStoredReadings(t *testing.T) {
	repo := &memRepo{}
	pub := &fakePublisher{}
	startService(t, sensor.NewSimChannel(1), repo, &fakeResetter{}, pub)

	waitFor(t, 5*time.Second, func() bool { return pub.calls.Load() >= 3 }, "3 readings published")
}

func Test_Service_continuesWhenPublishFails(t *testing.T) {
	repo := &memRepo{}
	pub := &fakePublisher{err: errors.New("broker down")}
	startService(t, sensor.NewSimChannel(1), repo, &fakeResetter{}, pub)

	// Storage keeps working while every publish fails.
	waitFor(t, 5*time.Second, func() bool { return repo.count() >= 3 }, "3 readings stored")
	if pub.calls.Load() == 0 {
		t.Error("publisher never invoked")
	}
}

func Test_Service_continuesAfterInsertFailure(t *testing.T) {
	repo := &memRepo{}
	repo.setInsertErr(errors.New("database is locked"))
	startService(t, sensor.NewSimChannel(1), repo, &fakeResetter{}, nil)

	// Let several polls fail, then clear the fault; the loop must still be alive.
	time.Sleep(50 * time.Millisecond)
	if repo.count() != 0 {
		t.Fatalf("stored %d readings while insert failing; want 0", repo.count())
	}
	repo.setInsertErr(nil)

	waitFor(t, 5*time.Second, func() bool { return repo.count() >= 1 }, "reading stored after fault cleared")
}

func Test_Service_frozenSensorTriggersRecovery(t *testing.T) {
	repo := &memRepo{}
	resetter := &fakeResetter{}
	channel := sensor.NewSimChannel(1)
	channel.Freeze(true)
	startService(t, channel, repo, resetter, nil)

	waitFor(t, 5*time.Second, func() bool { return resetter.calls.Load() >= 1 }, "hardware reset attempted")
	channel.Freeze(false)

	// Duplicates were still stored; only the trigger reading was dropped.
	if repo.count() == 0 {
		t.Error("no readings stored before recovery; duplicates should flow")
	}
}
