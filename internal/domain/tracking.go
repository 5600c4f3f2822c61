package domain

import "time"

// EngagementKind enumerates the engagement callbacks produced by
// instrumented email content.
type EngagementKind string

const (
	EngagementOpen  EngagementKind = "open"
	EngagementClick EngagementKind = "click"
)

// ClickedLink records one click on a rewritten link.
type ClickedLink struct {
	OriginalURL string    `json:"original_url"`
	ClickedAt   time.Time `json:"clicked_at"`
}

// TrackedEmail is created when an outbound email is instrumented and is
// mutated as engagement events arrive. Rows are never deleted.
type TrackedEmail struct {
	TrackingID   string        `json:"tracking_id"`
	UserID       string        `json:"user_id"`
	LeadID       string        `json:"lead_id,omitempty"`
	Recipient    string        `json:"recipient,omitempty"`
	Subject      string        `json:"subject"`
	CreatedAt    time.Time     `json:"created_at"`
	Opened       bool          `json:"opened"`
	OpenedAt     *time.Time    `json:"opened_at,omitempty"`
	ClickCount   int64         `json:"click_count"`
	ClickedLinks []ClickedLink `json:"clicked_links"`
}

// Clone returns a deep copy so that stores can hand out snapshots.
func (e *TrackedEmail) Clone() *TrackedEmail {
	c := *e
	if e.OpenedAt != nil {
		t := *e.OpenedAt
		c.OpenedAt = &t
	}
	c.ClickedLinks = append([]ClickedLink(nil), e.ClickedLinks...)
	return &c
}

// EngagementEvent is the ephemeral input to the ingestor. It is folded into
// TrackedEmail aggregates and appended to the event archive.
type EngagementEvent struct {
	TrackingID    string         `json:"tracking_id"`
	Kind          EngagementKind `json:"kind"`
	TargetURL     string         `json:"target_url,omitempty"`
	ReceivedAt    time.Time      `json:"received_at"`
	SourceAddress string         `json:"source_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
}

// EngagementStats aggregates tracked emails for display.
type EngagementStats struct {
	TotalSent   int64   `json:"total_sent"`
	Opened      int64   `json:"opened"`
	Clicked     int64   `json:"clicked"`
	TotalClicks int64   `json:"total_clicks"`
	OpenRate    float64 `json:"open_rate"`
	ClickRate   float64 `json:"click_rate"`
}

// CalculateEngagementStats computes open and click rates. An email counts as
// clicked when it has at least one click.
func CalculateEngagementStats(emails []*TrackedEmail) EngagementStats {
	var s EngagementStats
	for _, e := range emails {
		s.TotalSent++
		if e.Opened {
			s.Opened++
		}
		if e.ClickCount > 0 {
			s.Clicked++
		}
		s.TotalClicks += e.ClickCount
	}
	if s.TotalSent > 0 {
		s.OpenRate = float64(s.Opened) / float64(s.TotalSent)
		s.ClickRate = float64(s.Clicked) / float64(s.TotalSent)
	}
	return s
}
