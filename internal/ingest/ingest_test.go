package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"storepulse/internal/db"
	"storepulse/internal/ingest"
	"storepulse/internal/migrate"
	"storepulse/internal/repo"
)

func newTestLoader(t *testing.T) (ingest.Loader, repo.Repo) {
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
	return ingest.NewLoader(conn), repo.Repo{DB: conn}
}

func writeDataset(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestImportDir(t *testing.T) {
	loader, r := newTestLoader(t)
	dir := writeDataset(t, map[string]string{
		ingest.FileObservations: "store_id,timestamp_utc,status\n" +
			"s1,2025-01-06T15:00:00Z,open\n" +
			"s1,2025-01-06 16:30:00.123456 UTC,closed\n" +
			"s1,garbage,open\n",
		ingest.FileBusinessHours: "store_id,day,start_time_local,end_time_local\n" +
			"s1,0,09:00,12:00\n" +
			"s1,9,09:00,12:00\n",
		ingest.FileTimezones: "store_id,timezone_str\n" +
			"s1,America/Chicago\n" +
			"s2,Not/AZone\n",
	})

	ctx := context.Background()
	res, err := loader.ImportDir(ctx, dir)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Observations != 2 || res.Hours != 1 || res.Timezones != 1 {
		t.Fatalf("counts %+v", res)
	}
	if res.Skipped != 3 {
		t.Fatalf("skipped %d, want 3", res.Skipped)
	}
	if res.DataVersion != 1 {
		t.Fatalf("data version %d, want 1", res.DataVersion)
	}

	hours, err := r.ListBusinessHours(ctx, "s1")
	if err != nil || len(hours) != 1 {
		t.Fatalf("hours: %v, n=%d", err, len(hours))
	}
}

func TestImportRejectsMalformedHours(t *testing.T) {
	loader, r := newTestLoader(t)
	dir := writeDataset(t, map[string]string{
		ingest.FileBusinessHours: "store_id,day,start_time_local,end_time_local\n" +
			"s1,0,09:00,17:00\n" +
			"s2,0,9 AM,17:00\n" +
			"s2,0,09:00,5 PM\n",
	})

	ctx := context.Background()
	res, err := loader.ImportDir(ctx, dir)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Hours != 1 || res.Skipped != 2 {
		t.Fatalf("hours=%d skipped=%d, want 1 and 2", res.Hours, res.Skipped)
	}
	hours, err := r.ListBusinessHours(ctx, "s2")
	if err != nil {
		t.Fatalf("hours: %v", err)
	}
	if len(hours) != 0 {
		t.Fatalf("malformed rows imported: %+v", hours)
	}
}

func TestImportHeaderByteOrderMark(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := writeDataset(t, map[string]string{
		ingest.FileTimezones: "\uFEFFstore_id,timezone_str\ns1,UTC\n",
	})
	res, err := loader.ImportDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Timezones != 1 {
		t.Fatalf("timezones %d, want 1", res.Timezones)
	}
}

func TestImportReplacesDataset(t *testing.T) {
	loader, r := newTestLoader(t)
	ctx := context.Background()

	first := writeDataset(t, map[string]string{
		ingest.FileTimezones: "store_id,timezone_str\ns1,UTC\ns2,UTC\n",
	})
	if _, err := loader.ImportDir(ctx, first); err != nil {
		t.Fatalf("first import: %v", err)
	}

	second := writeDataset(t, map[string]string{
		ingest.FileTimezones: "store_id,timezone_str\ns3,UTC\n",
	})
	res, err := loader.ImportDir(ctx, second)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if res.DataVersion != 2 {
		t.Fatalf("data version %d, want 2", res.DataVersion)
	}

	version, err := r.DataVersion(ctx)
	if err != nil || version != 2 {
		t.Fatalf("stored version %d, %v", version, err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	ids, err := r.ListStoreIDsTx(ctx, tx)
	if err != nil {
		t.Fatalf("list stores: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s3" {
		t.Fatalf("stores %v, want [s3]", ids)
	}
}

func TestImportEmptyDir(t *testing.T) {
	loader, _ := newTestLoader(t)
	if _, err := loader.ImportDir(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for directory with no dataset files")
	}
}

func TestImportRecordsEvent(t *testing.T) {
	loader, r := newTestLoader(t)
	dir := writeDataset(t, map[string]string{
		ingest.FileTimezones: "store_id,timezone_str\ns1,UTC\n",
	})
	if _, err := loader.ImportDir(context.Background(), dir); err != nil {
		t.Fatalf("import: %v", err)
	}
	events, err := r.LatestEvents(context.Background(), 5, "dataset.imported", "", "")
	if err != nil || len(events) != 1 {
		t.Fatalf("events: %v, n=%d", err, len(events))
	}
}
