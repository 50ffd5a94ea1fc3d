package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"storepulse/internal/config"
	"storepulse/internal/domain"
	"storepulse/internal/estimate"
	"storepulse/internal/events"
	"storepulse/internal/repo"
	"storepulse/internal/schedule"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// ErrReportNotReady signals a payload request on a report that has not
// reached Complete.
var ErrReportNotReady = errors.New("report not complete")

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// DefaultWindow is the current UTC day [00:00, 24:00).
func (e Engine) DefaultWindow() (time.Time, time.Time) {
	now := e.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Trigger mints a report token and persists the Running record. The token
// is the caller's only handle; computation happens in a later Run call.
func (e Engine) Trigger(ctx context.Context) (domain.Report, error) {
	rep := domain.Report{
		ReportID:  uuid.New().String(),
		Status:    domain.ReportRunning,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReportTx(ctx, tx, rep); err != nil {
		return domain.Report{}, fmt.Errorf("insert report: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "report.created", "report", rep.ReportID, events.EventPayload{"status": rep.Status}); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return rep, nil
}

// TriggerAndRun creates the report and computes it on a detached goroutine,
// so the caller gets the token before the computation finishes.
func (e Engine) TriggerAndRun(ctx context.Context) (domain.Report, error) {
	rep, err := e.Trigger(ctx)
	if err != nil {
		return rep, err
	}
	go func() {
		_ = e.Run(context.Background(), rep.ReportID)
	}()
	return rep, nil
}

// Run computes the report over the default window.
func (e Engine) Run(ctx context.Context, reportID string) error {
	start, end := e.DefaultWindow()
	return e.RunWindow(ctx, reportID, start, end)
}

// RunWindow computes availability for every known store over
// [winStart, winEnd) and commits the terminal state in one write. Every
// failure path, panics included, resolves to a recorded Failed state.
func (e Engine) RunWindow(ctx context.Context, reportID string, winStart, winEnd time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("report run panic: %v", p)
		}
		if err != nil {
			e.fail(reportID, err)
		}
	}()

	rows, err := e.computeAll(ctx, winStart, winEnd)
	if err != nil {
		return err
	}
	payload, err := EncodeCSV(rows)
	if err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	completedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.CompleteReportTx(ctx, tx, reportID, payload, completedAt); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "report.completed", "report", reportID, events.EventPayload{"stores": len(rows)}); err != nil {
		return err
	}
	return tx.Commit()
}

// fail records the Failed state on a fresh context so a canceled request
// context cannot leave the report stuck in Running.
func (e Engine) fail(reportID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	completedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.FailReportTx(ctx, tx, reportID, cause.Error(), completedAt); err != nil {
		return
	}
	_ = e.Events.Append(ctx, tx, "report.failed", "report", reportID, events.EventPayload{"error": cause.Error()})
	_ = tx.Commit()
}

// computeAll reads the dataset inside one transaction so a concurrent
// re-import cannot produce a torn view.
func (e Engine) computeAll(ctx context.Context, winStart, winEnd time.Time) ([]domain.StoreAvailability, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	ids, err := e.Repo.ListStoreIDsTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.StoreAvailability, 0, len(ids))
	for _, id := range ids {
		row, err := e.computeStore(ctx, tx, id, winStart, winEnd)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", id, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e Engine) computeStore(ctx context.Context, tx *sql.Tx, storeID string, winStart, winEnd time.Time) (domain.StoreAvailability, error) {
	var flags estimate.Flag

	loc := e.Config.DefaultLocation()
	tzName, err := e.Repo.StoreTimezoneTx(ctx, tx, storeID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		flags |= estimate.FlagDefaultTimezone
	case err != nil:
		return domain.StoreAvailability{}, err
	default:
		l, lerr := time.LoadLocation(tzName)
		if lerr != nil {
			flags |= estimate.FlagDefaultTimezone
		} else {
			loc = l
		}
	}

	hours, err := e.Repo.ListBusinessHoursTx(ctx, tx, storeID)
	if err != nil {
		return domain.StoreAvailability{}, err
	}
	entries := make([]schedule.Entry, 0, len(hours))
	for _, bh := range hours {
		start, perr := schedule.ParseLocalTime(bh.StartTimeLocal)
		if perr != nil {
			return domain.StoreAvailability{}, fmt.Errorf("business hours: %w", perr)
		}
		end, perr := schedule.ParseLocalTime(bh.EndTimeLocal)
		if perr != nil {
			return domain.StoreAvailability{}, fmt.Errorf("business hours: %w", perr)
		}
		entries = append(entries, schedule.Entry{Day: bh.DayOfWeek, Start: start, End: end})
	}
	resolver := schedule.NewResolver(entries, loc)
	resolver.OpenWhenMissing = e.Config.Report.MissingHours == config.MissingHoursOpen

	fromTS := winStart.UTC().Format(time.RFC3339)
	toTS := winEnd.UTC().Format(time.RFC3339)
	obs := make([]estimate.Observation, 0, 8)
	anchor, err := e.Repo.LatestObservationBeforeTx(ctx, tx, storeID, fromTS)
	if err == nil {
		at, perr := time.Parse(time.RFC3339, anchor.TimestampUTC)
		if perr != nil {
			return domain.StoreAvailability{}, fmt.Errorf("observation timestamp: %w", perr)
		}
		obs = append(obs, estimate.Observation{At: at, Status: anchor.Status})
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.StoreAvailability{}, err
	}
	inWindow, err := e.Repo.ListObservationsTx(ctx, tx, storeID, fromTS, toTS)
	if err != nil {
		return domain.StoreAvailability{}, err
	}
	for _, o := range inWindow {
		at, perr := time.Parse(time.RFC3339, o.TimestampUTC)
		if perr != nil {
			return domain.StoreAvailability{}, fmt.Errorf("observation timestamp: %w", perr)
		}
		obs = append(obs, estimate.Observation{At: at, Status: o.Status})
	}

	res := estimate.Estimate(resolver, obs, winStart, winEnd)
	res.Flags |= flags

	status := domain.StatusClosed
	if len(obs) > 0 {
		status = obs[len(obs)-1].Status
	}
	return domain.StoreAvailability{
		StoreID:       storeID,
		Status:        status,
		Uptime:        round2(res.UptimePercent()),
		Downtime:      round2(res.DowntimePercent()),
		LowConfidence: res.Flags.LowConfidence(),
	}, nil
}

// Status returns the report lifecycle state.
func (e Engine) Status(ctx context.Context, reportID string) (string, error) {
	rep, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return "", err
	}
	return rep.Status, nil
}

// Payload returns the serialized rows; defined only once Complete.
func (e Engine) Payload(ctx context.Context, reportID string) ([]byte, error) {
	rep, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if rep.Status != domain.ReportComplete {
		return nil, ErrReportNotReady
	}
	return rep.Payload, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
