package domain

// Observation status values as they appear in source data and report rows.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Report lifecycle states.
const (
	ReportRunning  = "Running"
	ReportComplete = "Complete"
	ReportFailed   = "Failed"
)

type BusinessHours struct {
	StoreID        string `json:"store_id"`
	DayOfWeek      int    `json:"day_of_week" minimum:"0" maximum:"6"`
	StartTimeLocal string `json:"start_time_local"`
	EndTimeLocal   string `json:"end_time_local"`
}

type TimezoneAssignment struct {
	StoreID  string `json:"store_id"`
	Timezone string `json:"timezone"`
}

type StatusObservation struct {
	StoreID      string `json:"store_id"`
	TimestampUTC string `json:"timestamp_utc" format:"date-time"`
	Status       string `json:"status" enum:"open,closed"`
}

type Report struct {
	ReportID    string  `json:"report_id"`
	Status      string  `json:"status" enum:"Running,Complete,Failed"`
	Payload     []byte  `json:"-"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// StoreAvailability is one report row. Uptime and Downtime are percentages
// of business-hours time inside the report window, rounded to 2 decimals
// for presentation.
type StoreAvailability struct {
	StoreID       string  `json:"store_id"`
	Status        string  `json:"status"`
	Uptime        float64 `json:"uptime"`
	Downtime      float64 `json:"downtime"`
	LowConfidence bool    `json:"low_confidence"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
