package repository

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"envmon/internal/modules/env/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/latest-reading.sql
var latestReadingSQL string

//go:embed sql/history.sql
var historySQL string

//go:embed sql/prune.sql
var pruneSQL string

var (
	// ErrNoData is returned by Latest when nothing has been stored yet.
	ErrNoData = errors.New("no readings stored")
	// ErrInvalidRange is returned by History for hours outside [1, 168].
	ErrInvalidRange = errors.New("hours out of range")
)

const (
	MinHistoryHours = 1
	MaxHistoryHours = 168

	// RetentionWindow is the horizon beyond which stored readings are pruned.
	RetentionWindow = 7 * 24 * time.Hour

	// tsLayout keeps a fixed-width fractional part so the TEXT column sorts
	// and range-compares chronologically.
	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

// ReadingRepository is the retained time-series store. Insert and Prune are
// called only by the acquisition loop (single-writer discipline); Latest and
// History run concurrently from HTTP handlers.
type ReadingRepository interface {
	Insert(r types.Reading) error
	Latest() (types.Reading, error)
	History(hours int) ([]types.Reading, error)
	Prune(retention time.Duration) (int64, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) ReadingRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Insert(reading types.Reading) error {
	ts := reading.Timestamp.UTC().Format(tsLayout)
	_, err := r.db.Exec(insertReadingSQL,
		ts,
		reading.Temperature,
		reading.Humidity,
		reading.Light,
		reading.Pressure,
		reading.Noise,
		reading.ETVOC,
		reading.ECO2,
		reading.Discomfort,
		reading.HeatStroke,
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (r *repositoryImpl) Latest() (types.Reading, error) {
	row := r.db.QueryRow(latestReadingSQL)
	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Reading{}, ErrNoData
	}
	if err != nil {
		return types.Reading{}, fmt.Errorf("latest reading: %w", err)
	}
	return reading, nil
}

func (r *repositoryImpl) History(hours int) ([]types.Reading, error) {
	if hours < MinHistoryHours || hours > MaxHistoryHours {
		return nil, fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidRange, hours, MinHistoryHours, MaxHistoryHours)
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(tsLayout)
	rows, err := r.db.Query(historySQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []types.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, reading)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(tsLayout)
	res, err := r.db.Exec(pruneSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (types.Reading, error) {
	var r types.Reading
	var ts string
	err := row.Scan(
		&ts,
		&r.Temperature,
		&r.Humidity,
		&r.Light,
		&r.Pressure,
		&r.Noise,
		&r.ETVOC,
		&r.ECO2,
		&r.Discomfort,
		&r.HeatStroke,
	)
	if err != nil {
		return types.Reading{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return types.Reading{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	r.Timestamp = t
	return r, nil
}
