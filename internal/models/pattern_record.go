package models

import "time"

// PatternStatus represents the lifecycle status of a tracked pattern.
type PatternStatus string

const (
	StatusPending     PatternStatus = "pending"
	StatusConfirmed   PatternStatus = "confirmed"
	StatusCompleted   PatternStatus = "completed"
	StatusInvalidated PatternStatus = "invalidated"
	StatusExpired     PatternStatus = "expired"
)

// IsTerminal reports whether the status can never change again.
func (s PatternStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusInvalidated || s == StatusExpired
}

// Valid reports whether s is one of the known statuses.
func (s PatternStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusInvalidated, StatusExpired:
		return true
	}
	return false
}

// ActiveStatuses lists the non-terminal statuses.
var ActiveStatuses = []PatternStatus{StatusPending, StatusConfirmed}

// PatternRecord is the persisted form of a tracked pattern.
type PatternRecord struct {
	ID          string                 `json:"id"`
	PatternID   string                 `json:"pattern_id"`
	Symbol      string                 `json:"symbol"`
	Timeframe   string                 `json:"timeframe"`
	PatternType string                 `json:"pattern_type"`
	Status      PatternStatus          `json:"status"`
	Confidence  float64                `json:"confidence"`
	Bias        string                 `json:"bias"`
	Support     *float64               `json:"support,omitempty"`
	Resistance  *float64               `json:"resistance,omitempty"`
	Target      *float64               `json:"target,omitempty"`
	StopLoss    *float64               `json:"stop_loss,omitempty"`
	LastPrice   *float64               `json:"last_price,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// AgeHours returns the record age at now in hours.
func (r *PatternRecord) AgeHours(now time.Time) float64 {
	return now.Sub(r.CreatedAt).Hours()
}

// Clone returns a deep copy of the record.
func (r *PatternRecord) Clone() *PatternRecord {
	out := *r
	out.Support = clonePrice(r.Support)
	out.Resistance = clonePrice(r.Resistance)
	out.Target = clonePrice(r.Target)
	out.StopLoss = clonePrice(r.StopLoss)
	out.LastPrice = clonePrice(r.LastPrice)
	if r.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Apply merges the set fields of upd into the record.
func (r *PatternRecord) Apply(upd RecordUpdate) {
	if upd.Status != nil {
		r.Status = *upd.Status
	}
	if upd.Confidence != nil {
		r.Confidence = *upd.Confidence
	}
	if upd.Reason != nil {
		r.Reason = *upd.Reason
	}
	if upd.LastPrice != nil {
		r.LastPrice = clonePrice(upd.LastPrice)
	}
	if len(upd.Metadata) > 0 {
		if r.Metadata == nil {
			r.Metadata = make(map[string]interface{}, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			r.Metadata[k] = v
		}
	}
	if !upd.UpdatedAt.IsZero() {
		r.UpdatedAt = upd.UpdatedAt
	}
}

// RecordUpdate carries the fields to change on a persisted record. Nil fields are left alone.
type RecordUpdate struct {
	Status     *PatternStatus         `json:"status,omitempty"`
	Confidence *float64               `json:"confidence,omitempty"`
	Reason     *string                `json:"reason,omitempty"`
	LastPrice  *float64               `json:"last_price,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func clonePrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
