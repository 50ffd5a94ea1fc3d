package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storepulse/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(report_id,status,payload,error,created_at,completed_at) VALUES (?,?,?,?,?,?)`,
		rep.ReportID, rep.Status, rep.Payload, nullable(rep.Error), rep.CreatedAt, nullableStringPtr(rep.CompletedAt))
	return err
}

func (r Repo) GetReport(ctx context.Context, reportID string) (domain.Report, error) {
	var rep domain.Report
	var payload []byte
	var errDetail, completedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT report_id,status,payload,error,created_at,completed_at FROM reports WHERE report_id=?`, reportID).
		Scan(&rep.ReportID, &rep.Status, &payload, &errDetail, &rep.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	rep.Payload = payload
	if errDetail.Valid {
		rep.Error = errDetail.String
	}
	if completedAt.Valid {
		rep.CompletedAt = &completedAt.String
	}
	return rep, nil
}

// CompleteReportTx commits status, payload and completed_at in one write.
// The status guard keeps terminal reports immutable.
func (r Repo) CompleteReportTx(ctx context.Context, tx *sql.Tx, reportID string, payload []byte, completedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status=?, payload=?, error=NULL, completed_at=? WHERE report_id=? AND status=?`,
		domain.ReportComplete, payload, completedAt, reportID, domain.ReportRunning)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s is not running", reportID)
	}
	return nil
}

func (r Repo) FailReportTx(ctx context.Context, tx *sql.Tx, reportID, detail, completedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status=?, payload=NULL, error=?, completed_at=? WHERE report_id=? AND status=?`,
		domain.ReportFailed, detail, completedAt, reportID, domain.ReportRunning)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s is not running", reportID)
	}
	return nil
}

func (r Repo) ListReports(ctx context.Context, limit int) ([]domain.Report, error) {
	query := `SELECT report_id,status,error,created_at,completed_at FROM reports ORDER BY created_at DESC, report_id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		var rep domain.Report
		var errDetail, completedAt sql.NullString
		if err := rows.Scan(&rep.ReportID, &rep.Status, &errDetail, &rep.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		if errDetail.Valid {
			rep.Error = errDetail.String
		}
		if completedAt.Valid {
			rep.CompletedAt = &completedAt.String
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.Payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
