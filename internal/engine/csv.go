package engine

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"storepulse/internal/domain"
)

var csvHeader = []string{"store_id", "status", "uptime", "downtime", "low_confidence"}

// EncodeCSV renders report rows with a fixed header and two-decimal
// percentages.
func EncodeCSV(rows []domain.StoreAvailability) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{
			r.StoreID,
			r.Status,
			strconv.FormatFloat(r.Uptime, 'f', 2, 64),
			strconv.FormatFloat(r.Downtime, 'f', 2, 64),
			strconv.FormatBool(r.LowConfidence),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCSV parses a report payload back into rows.
func DecodeCSV(payload []byte) ([]domain.StoreAvailability, error) {
	r := csv.NewReader(bytes.NewReader(payload))
	recs, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("empty report payload")
	}
	rows := make([]domain.StoreAvailability, 0, len(recs)-1)
	for _, rec := range recs[1:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("report row has %d columns, want %d", len(rec), len(csvHeader))
		}
		up, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("uptime for %s: %w", rec[0], err)
		}
		down, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("downtime for %s: %w", rec[0], err)
		}
		low, err := strconv.ParseBool(rec[4])
		if err != nil {
			return nil, fmt.Errorf("low_confidence for %s: %w", rec[0], err)
		}
		rows = append(rows, domain.StoreAvailability{
			StoreID:       rec[0],
			Status:        rec[1],
			Uptime:        up,
			Downtime:      down,
			LowConfidence: low,
		})
	}
	return rows, nil
}
