package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateEngagementStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		emails []*TrackedEmail
		want   EngagementStats
	}{
		{
			name:   "no emails",
			emails: nil,
			want:   EngagementStats{},
		},
		{
			name: "mixed engagement",
			emails: []*TrackedEmail{
				{TrackingID: "a", Opened: true, OpenedAt: &now, ClickCount: 3},
				{TrackingID: "b", Opened: true, OpenedAt: &now},
				{TrackingID: "c"},
				{TrackingID: "d", ClickCount: 1},
			},
			want: EngagementStats{
				TotalSent:   4,
				Opened:      2,
				Clicked:     2,
				TotalClicks: 4,
				OpenRate:    0.5,
				ClickRate:   0.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateEngagementStats(tt.emails))
		})
	}
}

func TestTrackedEmail_CloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := &TrackedEmail{
		TrackingID:   "abc",
		OpenedAt:     &now,
		ClickedLinks: []ClickedLink{{OriginalURL: "https://example.com", ClickedAt: now}},
	}

	c := orig.Clone()
	c.ClickedLinks[0].OriginalURL = "https://changed.example"
	*c.OpenedAt = now.Add(time.Hour)

	assert.Equal(t, "https://example.com", orig.ClickedLinks[0].OriginalURL)
	assert.Equal(t, now, *orig.OpenedAt)
}
