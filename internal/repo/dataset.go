package repo

import (
	"context"
	"database/sql"
	"strconv"

	"storepulse/internal/domain"
)

// Dataset access. The ingest collaborator owns these tables; the engine
// reads them inside a single transaction per report for a consistent view.

func (r Repo) ListStoreIDsTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT store_id FROM store_status
UNION SELECT store_id FROM business_hours
UNION SELECT store_id FROM store_timezones
ORDER BY store_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) StoreTimezoneTx(ctx context.Context, tx *sql.Tx, storeID string) (string, error) {
	var tz string
	err := tx.QueryRowContext(ctx, `SELECT timezone FROM store_timezones WHERE store_id=?`, storeID).Scan(&tz)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return tz, err
}

func (r Repo) ListBusinessHoursTx(ctx context.Context, tx *sql.Tx, storeID string) ([]domain.BusinessHours, error) {
	rows, err := tx.QueryContext(ctx, `SELECT store_id,day_of_week,start_time_local,end_time_local FROM business_hours WHERE store_id=? ORDER BY day_of_week, start_time_local`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BusinessHours
	for rows.Next() {
		var bh domain.BusinessHours
		if err := rows.Scan(&bh.StoreID, &bh.DayOfWeek, &bh.StartTimeLocal, &bh.EndTimeLocal); err != nil {
			return nil, err
		}
		res = append(res, bh)
	}
	return res, rows.Err()
}

func (r Repo) ListBusinessHours(ctx context.Context, storeID string) ([]domain.BusinessHours, error) {
	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return r.ListBusinessHoursTx(ctx, tx, storeID)
}

// ListObservationsTx returns observations in [fromTS, toTS) in ascending
// timestamp order; insertion order breaks ties. Timestamps are RFC3339 UTC
// strings, so lexical comparison matches chronological order.
func (r Repo) ListObservationsTx(ctx context.Context, tx *sql.Tx, storeID, fromTS, toTS string) ([]domain.StatusObservation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT store_id,timestamp_utc,status FROM store_status
WHERE store_id=? AND timestamp_utc>=? AND timestamp_utc<? ORDER BY timestamp_utc ASC, id ASC`, storeID, fromTS, toTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusObservation
	for rows.Next() {
		var o domain.StatusObservation
		if err := rows.Scan(&o.StoreID, &o.TimestampUTC, &o.Status); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// LatestObservationBeforeTx returns the last observation strictly before ts,
// the anchor for extrapolating status into a window's start.
func (r Repo) LatestObservationBeforeTx(ctx context.Context, tx *sql.Tx, storeID, ts string) (domain.StatusObservation, error) {
	var o domain.StatusObservation
	err := tx.QueryRowContext(ctx, `SELECT store_id,timestamp_utc,status FROM store_status
WHERE store_id=? AND timestamp_utc<? ORDER BY timestamp_utc DESC, id DESC LIMIT 1`, storeID, ts).
		Scan(&o.StoreID, &o.TimestampUTC, &o.Status)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

// Ingest writes. Callers wrap these in a single transaction so readers
// never observe a half-loaded dataset.

func (r Repo) InsertBusinessHoursTx(ctx context.Context, tx *sql.Tx, bh domain.BusinessHours) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO business_hours(store_id,day_of_week,start_time_local,end_time_local) VALUES (?,?,?,?)`,
		bh.StoreID, bh.DayOfWeek, bh.StartTimeLocal, bh.EndTimeLocal)
	return err
}

func (r Repo) UpsertTimezoneTx(ctx context.Context, tx *sql.Tx, tz domain.TimezoneAssignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO store_timezones(store_id,timezone) VALUES (?,?)
ON CONFLICT(store_id) DO UPDATE SET timezone=excluded.timezone`, tz.StoreID, tz.Timezone)
	return err
}

func (r Repo) InsertObservationTx(ctx context.Context, tx *sql.Tx, o domain.StatusObservation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO store_status(store_id,timestamp_utc,status) VALUES (?,?,?)`,
		o.StoreID, o.TimestampUTC, o.Status)
	return err
}

func (r Repo) ClearDatasetTx(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`DELETE FROM store_status`,
		`DELETE FROM business_hours`,
		`DELETE FROM store_timezones`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DataVersion(ctx context.Context) (int64, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='data_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (r Repo) BumpDataVersionTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='data_version'`).Scan(&raw); err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	v, _ := strconv.ParseInt(raw, 10, 64)
	v++
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key,value) VALUES ('data_version',?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, strconv.FormatInt(v, 10)); err != nil {
		return 0, err
	}
	return v, nil
}
