package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"storepulse/internal/config"
	"storepulse/internal/db"
	"storepulse/internal/domain"
	"storepulse/internal/engine"
	"storepulse/internal/migrate"
	"storepulse/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	// 2025-01-06 is a Monday; the default window is that UTC day.
	eng.Now = func() time.Time { return time.Date(2025, time.January, 6, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) seed(t *testing.T, hours []domain.BusinessHours, tzs []domain.TimezoneAssignment, obs []domain.StatusObservation) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	r := env.Engine.Repo
	for _, h := range hours {
		if err := r.InsertBusinessHoursTx(env.Ctx, tx, h); err != nil {
			t.Fatalf("insert hours: %v", err)
		}
	}
	for _, z := range tzs {
		if err := r.UpsertTimezoneTx(env.Ctx, tx, z); err != nil {
			t.Fatalf("insert timezone: %v", err)
		}
	}
	for _, o := range obs {
		if err := r.InsertObservationTx(env.Ctx, tx, o); err != nil {
			t.Fatalf("insert observation: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit seed: %v", err)
	}
}

func TestReportLifecycle(t *testing.T) {
	env := newTestEnv(t)
	// s1: Monday 09:00-12:00 in Chicago is 15:00-18:00 UTC in January.
	env.seed(t,
		[]domain.BusinessHours{
			{StoreID: "s1", DayOfWeek: 0, StartTimeLocal: "09:00", EndTimeLocal: "12:00"},
		},
		[]domain.TimezoneAssignment{
			{StoreID: "s1", Timezone: "America/Chicago"},
		},
		[]domain.StatusObservation{
			{StoreID: "s1", TimestampUTC: "2025-01-06T15:00:00Z", Status: "open"},
			{StoreID: "s1", TimestampUTC: "2025-01-06T16:30:00Z", Status: "closed"},
		},
	)

	rep, err := env.Engine.Trigger(env.Ctx)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if rep.Status != domain.ReportRunning {
		t.Fatalf("status %s, want Running", rep.Status)
	}
	if _, err := env.Engine.Payload(env.Ctx, rep.ReportID); !errors.Is(err, engine.ErrReportNotReady) {
		t.Fatalf("payload while running: %v, want ErrReportNotReady", err)
	}

	if err := env.Engine.Run(env.Ctx, rep.ReportID); err != nil {
		t.Fatalf("run: %v", err)
	}
	status, err := env.Engine.Status(env.Ctx, rep.ReportID)
	if err != nil || status != domain.ReportComplete {
		t.Fatalf("status %s, %v, want Complete", status, err)
	}

	payload, err := env.Engine.Payload(env.Ctx, rep.ReportID)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	rows, err := engine.DecodeCSV(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows %d, want 1", len(rows))
	}
	row := rows[0]
	if row.StoreID != "s1" || row.Status != "closed" {
		t.Fatalf("row %+v", row)
	}
	if row.Uptime != 50 || row.Downtime != 50 {
		t.Fatalf("uptime %v downtime %v, want 50/50", row.Uptime, row.Downtime)
	}
	if row.LowConfidence {
		t.Fatalf("unexpected low confidence: %+v", row)
	}
}

func TestReportFlagsMissingData(t *testing.T) {
	env := newTestEnv(t)
	// s2 has an observation but neither hours nor a timezone.
	env.seed(t, nil, nil, []domain.StatusObservation{
		{StoreID: "s2", TimestampUTC: "2025-01-06T10:00:00Z", Status: "open"},
	})

	rep, err := env.Engine.Trigger(env.Ctx)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := env.Engine.Run(env.Ctx, rep.ReportID); err != nil {
		t.Fatalf("run: %v", err)
	}
	payload, err := env.Engine.Payload(env.Ctx, rep.ReportID)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	rows, err := engine.DecodeCSV(payload)
	if err != nil || len(rows) != 1 {
		t.Fatalf("decode: %v rows=%d", err, len(rows))
	}
	row := rows[0]
	if !row.LowConfidence {
		t.Fatalf("expected low confidence: %+v", row)
	}
	if row.Uptime != 0 || row.Downtime != 0 {
		t.Fatalf("zero-hours store should report 0/0, got %+v", row)
	}
	if row.Status != "open" {
		t.Fatalf("status %s, want last observed open", row.Status)
	}
}

func TestAnchorObservationBeforeWindow(t *testing.T) {
	env := newTestEnv(t)
	// Only sample is Sunday night; it extrapolates across Monday's hours.
	env.seed(t,
		[]domain.BusinessHours{
			{StoreID: "s3", DayOfWeek: 0, StartTimeLocal: "09:00", EndTimeLocal: "12:00"},
		},
		[]domain.TimezoneAssignment{{StoreID: "s3", Timezone: "UTC"}},
		[]domain.StatusObservation{
			{StoreID: "s3", TimestampUTC: "2025-01-05T23:00:00Z", Status: "open"},
		},
	)
	rep, err := env.Engine.Trigger(env.Ctx)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := env.Engine.Run(env.Ctx, rep.ReportID); err != nil {
		t.Fatalf("run: %v", err)
	}
	payload, err := env.Engine.Payload(env.Ctx, rep.ReportID)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	rows, err := engine.DecodeCSV(payload)
	if err != nil || len(rows) != 1 {
		t.Fatalf("decode: %v rows=%d", err, len(rows))
	}
	if rows[0].Uptime != 100 || rows[0].LowConfidence {
		t.Fatalf("anchored row %+v, want 100%% uptime, full confidence", rows[0])
	}
}

func TestReportFailureRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, nil, nil, []domain.StatusObservation{
		{StoreID: "bad", TimestampUTC: "2025-01-06T99:99:99Z", Status: "open"},
	})
	rep, err := env.Engine.Trigger(env.Ctx)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := env.Engine.Run(env.Ctx, rep.ReportID); err == nil {
		t.Fatal("expected run to fail")
	}
	got, err := env.Engine.Repo.GetReport(env.Ctx, rep.ReportID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if got.Status != domain.ReportFailed || got.Error == "" {
		t.Fatalf("report %+v, want Failed with error detail", got)
	}
	if _, err := env.Engine.Payload(env.Ctx, rep.ReportID); !errors.Is(err, engine.ErrReportNotReady) {
		t.Fatalf("payload on failed report: %v, want ErrReportNotReady", err)
	}
}

func TestTerminalReportImmutable(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.Trigger(env.Ctx)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := env.Engine.Run(env.Ctx, rep.ReportID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := env.Engine.Run(env.Ctx, rep.ReportID); err == nil {
		t.Fatal("second run should refuse a terminal report")
	}
	got, err := env.Engine.Repo.GetReport(env.Ctx, rep.ReportID)
	if err != nil || got.Status != domain.ReportComplete {
		t.Fatalf("report %+v, %v, want still Complete", got, err)
	}
}

func TestUnknownReport(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Status(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("status: %v, want ErrNotFound", err)
	}
	if _, err := env.Engine.Payload(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("payload: %v, want ErrNotFound", err)
	}
}

func TestReportEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.Trigger(env.Ctx)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := env.Engine.Run(env.Ctx, rep.ReportID); err != nil {
		t.Fatalf("run: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "report", rep.ReportID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.Type] = true
	}
	if !seen["report.created"] || !seen["report.completed"] {
		t.Fatalf("events %v, want report.created and report.completed", seen)
	}
}
