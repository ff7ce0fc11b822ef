package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// maxScan bounds how many recent requests one collection reads.
const maxScan = store.MaxListLimit

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Request metrics (within lookback window).
	RequestsTotal      int     `json:"requests_total"`
	RequestsCompleted  int     `json:"requests_completed"`
	RequestsFailed     int     `json:"requests_failed"`
	RequestsCancelled  int     `json:"requests_cancelled"`
	RequestsPending    int     `json:"requests_pending"`
	RequestsProcessing int     `json:"requests_processing"`
	RequestFailRate    float64 `json:"request_fail_rate"`

	// Dispatch metrics across the same requests.
	DispatchAttempts int     `json:"dispatch_attempts"`
	DispatchSent     int     `json:"dispatch_sent"`
	NeedsReauth      int     `json:"needs_reauth"`
	SendFailRate     float64 `json:"send_fail_rate"`

	// FailureReasons counts error_detail prefixes of failed requests.
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	Truncated     bool      `json:"truncated,omitempty"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RequestLister is the part of the store the collector reads.
type RequestLister interface {
	ListRequests(ctx context.Context, filter store.RequestFilter) ([]model.PipelineRequest, error)
}

// Collector gathers metrics from the request store.
type Collector struct {
	store RequestLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RequestLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	reqs, err := c.store.ListRequests(ctx, store.RequestFilter{Limit: maxScan})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list requests")
	}
	snap.Truncated = len(reqs) == maxScan

	for _, r := range reqs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RequestsTotal++
		switch r.Status {
		case model.RequestStatusCompleted:
			snap.RequestsCompleted++
		case model.RequestStatusFailed:
			snap.RequestsFailed++
			if snap.FailureReasons == nil {
				snap.FailureReasons = make(map[string]int)
			}
			snap.FailureReasons[failurePrefix(r.ErrorDetail)]++
		case model.RequestStatusCancelled:
			snap.RequestsCancelled++
		case model.RequestStatusPending:
			snap.RequestsPending++
		case model.RequestStatusProcessing:
			snap.RequestsProcessing++
		}

		for _, d := range r.DispatchResults {
			if d.Reason == dispatch.ReasonNeedsReauth {
				snap.NeedsReauth++
				continue
			}
			snap.DispatchAttempts++
			if d.Sent {
				snap.DispatchSent++
			}
		}
	}

	if finished := snap.RequestsCompleted + snap.RequestsFailed; finished > 0 {
		snap.RequestFailRate = float64(snap.RequestsFailed) / float64(finished)
	}
	if snap.DispatchAttempts > 0 {
		snap.SendFailRate = float64(snap.DispatchAttempts-snap.DispatchSent) / float64(snap.DispatchAttempts)
	}

	return snap, nil
}

// failurePrefix returns the machine-readable part of an error detail.
func failurePrefix(detail string) string {
	for i := 0; i < len(detail); i++ {
		if detail[i] == ':' {
			return detail[:i]
		}
	}
	if detail == "" {
		return "unknown"
	}
	return detail
}
