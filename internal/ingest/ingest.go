// Package ingest loads the poll/hours/timezone dataset from CSV files and
// swaps it into the database atomically.
package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"storepulse/internal/domain"
	"storepulse/internal/events"
	"storepulse/internal/repo"
	"storepulse/internal/schedule"
)

const (
	FileObservations  = "store_status.csv"
	FileBusinessHours = "business_hours.csv"
	FileTimezones     = "timezones.csv"
)

// Loader imports dataset files. Each import replaces the previous dataset
// in a single transaction, so readers never see a half-loaded mix.
type Loader struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
}

func NewLoader(db *sql.DB) Loader {
	return Loader{DB: db, Repo: repo.Repo{DB: db}, Events: events.Writer{DB: db}}
}

// Result counts what an import accepted and skipped.
type Result struct {
	Observations int   `json:"observations"`
	Hours        int   `json:"hours"`
	Timezones    int   `json:"timezones"`
	Skipped      int   `json:"skipped"`
	DataVersion  int64 `json:"data_version"`
}

// ImportDir loads the dataset files found under dir. Missing files are
// skipped; rows that fail validation are counted, not fatal.
func (l Loader) ImportDir(ctx context.Context, dir string) (Result, error) {
	var res Result
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if err := l.Repo.ClearDatasetTx(ctx, tx); err != nil {
		return res, err
	}

	found := 0
	if rows, skipped, err := l.loadObservations(ctx, tx, filepath.Join(dir, FileObservations)); err == nil {
		res.Observations, res.Skipped = rows, res.Skipped+skipped
		found++
	} else if !os.IsNotExist(err) {
		return res, fmt.Errorf("%s: %w", FileObservations, err)
	}
	if rows, skipped, err := l.loadBusinessHours(ctx, tx, filepath.Join(dir, FileBusinessHours)); err == nil {
		res.Hours, res.Skipped = rows, res.Skipped+skipped
		found++
	} else if !os.IsNotExist(err) {
		return res, fmt.Errorf("%s: %w", FileBusinessHours, err)
	}
	if rows, skipped, err := l.loadTimezones(ctx, tx, filepath.Join(dir, FileTimezones)); err == nil {
		res.Timezones, res.Skipped = rows, res.Skipped+skipped
		found++
	} else if !os.IsNotExist(err) {
		return res, fmt.Errorf("%s: %w", FileTimezones, err)
	}
	if found == 0 {
		return res, fmt.Errorf("no dataset files in %s", dir)
	}

	version, err := l.Repo.BumpDataVersionTx(ctx, tx)
	if err != nil {
		return res, err
	}
	res.DataVersion = version
	payload := events.EventPayload{
		"observations": res.Observations,
		"hours":        res.Hours,
		"timezones":    res.Timezones,
		"skipped":      res.Skipped,
		"data_version": version,
	}
	if err := l.Events.Append(ctx, tx, "dataset.imported", "dataset", strconv.FormatInt(version, 10), payload); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

func (l Loader) loadObservations(ctx context.Context, tx *sql.Tx, path string) (int, int, error) {
	return eachRecord(path, []string{"store_id", "timestamp_utc", "status"}, func(rec []string) error {
		ts, err := parseTimestamp(rec[1])
		if err != nil {
			return err
		}
		status := strings.ToLower(strings.TrimSpace(rec[2]))
		if status != domain.StatusOpen && status != domain.StatusClosed {
			return fmt.Errorf("status %q", rec[2])
		}
		return l.Repo.InsertObservationTx(ctx, tx, domain.StatusObservation{
			StoreID:      strings.TrimSpace(rec[0]),
			TimestampUTC: ts,
			Status:       status,
		})
	})
}

func (l Loader) loadBusinessHours(ctx context.Context, tx *sql.Tx, path string) (int, int, error) {
	return eachRecord(path, []string{"store_id", "day", "start_time_local", "end_time_local"}, func(rec []string) error {
		day, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil || day < 0 || day > 6 {
			return fmt.Errorf("day %q", rec[1])
		}
		start := strings.TrimSpace(rec[2])
		if _, err := schedule.ParseLocalTime(start); err != nil {
			return fmt.Errorf("start_time_local %q", rec[2])
		}
		end := strings.TrimSpace(rec[3])
		if _, err := schedule.ParseLocalTime(end); err != nil {
			return fmt.Errorf("end_time_local %q", rec[3])
		}
		return l.Repo.InsertBusinessHoursTx(ctx, tx, domain.BusinessHours{
			StoreID:        strings.TrimSpace(rec[0]),
			DayOfWeek:      day,
			StartTimeLocal: start,
			EndTimeLocal:   end,
		})
	})
}

func (l Loader) loadTimezones(ctx context.Context, tx *sql.Tx, path string) (int, int, error) {
	return eachRecord(path, []string{"store_id", "timezone_str"}, func(rec []string) error {
		name := strings.TrimSpace(rec[1])
		if _, err := time.LoadLocation(name); err != nil {
			return fmt.Errorf("timezone %q", rec[1])
		}
		return l.Repo.UpsertTimezoneTx(ctx, tx, domain.TimezoneAssignment{
			StoreID:  strings.TrimSpace(rec[0]),
			Timezone: name,
		})
	})
}

// eachRecord streams a CSV file, resolving columns by header name, and
// applies fn per row. A row error counts as a skip; an I/O error aborts.
func eachRecord(path string, columns []string, fn func(rec []string) error) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	idx := make([]int, len(columns))
	for i, col := range columns {
		idx[i] = -1
		for j, h := range header {
			if colName(h) == col {
				idx[i] = j
				break
			}
		}
		if idx[i] == -1 {
			return 0, 0, fmt.Errorf("missing column %q", col)
		}
	}

	accepted, skipped := 0, 0
	rec := make([]string, len(columns))
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return accepted, skipped, err
		}
		bad := false
		for i, j := range idx {
			if j >= len(row) {
				bad = true
				break
			}
			rec[i] = row[j]
		}
		if bad {
			skipped++
			continue
		}
		if err := fn(rec); err != nil {
			skipped++
			continue
		}
		accepted++
	}
	return accepted, skipped, nil
}

func colName(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp normalizes the accepted input layouts to RFC3339 UTC,
// which is the storage and sort representation.
func parseTimestamp(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("timestamp %q", s)
}
