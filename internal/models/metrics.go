package models

import "sort"

// MetricKey identifies one rollup counter. An empty CampaignID is the global
// key for (Date, EventType).
type MetricKey struct {
	Date       string    `json:"date"`
	EventType  EventType `json:"event_type"`
	CampaignID string    `json:"campaign_id,omitempty"`
}

// IsGlobal reports whether the key is not campaign-scoped.
func (k MetricKey) IsGlobal() bool { return k.CampaignID == "" }

// DailyMetric is a pre-aggregated counter.
type DailyMetric struct {
	MetricKey
	Count int64 `json:"count"`
}

// ExpandRollup turns raw per (date, type, campaign) event counts, where
// events without a campaign carry an empty CampaignID, into the full set of
// rollup counters: one global counter per (date, type) plus one
// campaign-scoped counter per campaign. Output is sorted by key.
func ExpandRollup(raw []DailyMetric) []DailyMetric {
	sums := make(map[MetricKey]int64, len(raw)*2)
	for _, m := range raw {
		if m.Count == 0 {
			continue
		}
		global := MetricKey{Date: m.Date, EventType: m.EventType}
		sums[global] += m.Count
		if m.CampaignID != "" {
			sums[m.MetricKey] += m.Count
		}
	}

	out := make([]DailyMetric, 0, len(sums))
	for k, c := range sums {
		out = append(out, DailyMetric{MetricKey: k, Count: c})
	}
	SortMetrics(out)
	return out
}

// GlobalOnly filters metrics down to global counters.
func GlobalOnly(metrics []DailyMetric) []DailyMetric {
	out := make([]DailyMetric, 0, len(metrics))
	for _, m := range metrics {
		if m.IsGlobal() {
			out = append(out, m)
		}
	}
	return out
}

// SortMetrics orders metrics by date, type, then campaign.
func SortMetrics(metrics []DailyMetric) {
	sort.Slice(metrics, func(i, j int) bool {
		a, b := metrics[i], metrics[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.EventType != b.EventType {
			return a.EventType < b.EventType
		}
		return a.CampaignID < b.CampaignID
	})
}

// ===========================================
// COUNTS AND RATES
// ===========================================

// Counts holds one counter per event type.
type Counts struct {
	Sent         int64 `json:"sent"`
	Delivered    int64 `json:"delivered"`
	Opened       int64 `json:"opened"`
	Clicked      int64 `json:"clicked"`
	Bounced      int64 `json:"bounced"`
	Complained   int64 `json:"complained"`
	Unsubscribed int64 `json:"unsubscribed"`
}

// Add adds n to the counter for t. Unknown types are ignored.
func (c *Counts) Add(t EventType, n int64) {
	switch t {
	case EventSent:
		c.Sent += n
	case EventDelivered:
		c.Delivered += n
	case EventOpened:
		c.Opened += n
	case EventClicked:
		c.Clicked += n
	case EventBounced:
		c.Bounced += n
	case EventComplained:
		c.Complained += n
	case EventUnsubscribed:
		c.Unsubscribed += n
	}
}

// Get returns the counter for t.
func (c Counts) Get(t EventType) int64 {
	switch t {
	case EventSent:
		return c.Sent
	case EventDelivered:
		return c.Delivered
	case EventOpened:
		return c.Opened
	case EventClicked:
		return c.Clicked
	case EventBounced:
		return c.Bounced
	case EventComplained:
		return c.Complained
	case EventUnsubscribed:
		return c.Unsubscribed
	}
	return 0
}

// Rates are engagement ratios in [0, 1] for well-formed data. A rate whose
// denominator is zero is 0.
type Rates struct {
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	DeliveryRate    float64 `json:"delivery_rate"`
	ComplaintRate   float64 `json:"complaint_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
}

// ComputeRates derives Rates from c.
func ComputeRates(c Counts) Rates {
	return Rates{
		OpenRate:        ratio(c.Opened, c.Delivered),
		ClickRate:       ratio(c.Clicked, c.Delivered),
		BounceRate:      ratio(c.Bounced, c.Sent),
		DeliveryRate:    ratio(c.Delivered, c.Sent),
		ComplaintRate:   ratio(c.Complained, c.Delivered),
		UnsubscribeRate: ratio(c.Unsubscribed, c.Delivered),
	}
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// ===========================================
// QUERY RESULTS
// ===========================================

// EmailAnalytics summarizes a date range.
type EmailAnalytics struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Counts
	Rates
}

// DailyEmailMetric is one day of a zero-filled daily series.
type DailyEmailMetric struct {
	Date string `json:"date"`
	Counts
}

// EngagementTrendPoint is one day of raw counts plus derived rates.
type EngagementTrendPoint struct {
	Date string `json:"date"`
	Counts
	Rates
}

// CampaignAnalytics is the derived per-campaign view. Never stored.
type CampaignAnalytics struct {
	CampaignID string `json:"campaign_id"`
	Counts
	Rates
}
