package server

import (
	"encoding/json"

	"storepulse/internal/domain"
)

// Request payloads

type ImportRequest struct {
	Dir string `json:"dir,omitempty"`
}

// Response payloads

type TriggerReportResponse struct {
	ReportID string `json:"report_id"`
}

type ReportResponse struct {
	ReportID    string  `json:"report_id"`
	Status      string  `json:"status" enum:"Running,Complete,Failed"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type StoreResponse struct {
	StoreID         string `json:"store_id"`
	Timezone        string `json:"timezone"`
	DefaultTimezone bool   `json:"default_timezone,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func reportResponse(rep domain.Report) ReportResponse {
	return ReportResponse{
		ReportID:    rep.ReportID,
		Status:      rep.Status,
		Error:       rep.Error,
		CreatedAt:   rep.CreatedAt,
		CompletedAt: rep.CompletedAt,
	}
}

func mapReports(items []domain.Report) []ReportResponse {
	out := make([]ReportResponse, 0, len(items))
	for _, it := range items {
		out = append(out, reportResponse(it))
	}
	return out
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, it := range items {
		resp := EventResponse{
			ID:         it.ID,
			TS:         it.TS,
			Type:       it.Type,
			EntityKind: it.EntityKind,
			EntityID:   it.EntityID,
		}
		if len(it.Payload) > 0 {
			var payload map[string]any
			if err := json.Unmarshal([]byte(it.Payload), &payload); err == nil {
				resp.Payload = payload
			}
		}
		out = append(out, resp)
	}
	return out
}
