//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
)

func TestFormatRequestsList(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	reqs := []model.PipelineRequest{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			OwnerID:    "owner-1",
			Status:     model.RequestStatusCompleted,
			Stage:      model.StageDispatch,
			TotalFound: 6,
			SentCount:  3,
			CreatedAt:  now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			OwnerID:   "owner-2",
			Status:    model.RequestStatusPending,
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRequestsList(&buf, reqs)

	output := buf.String()
	assert.Contains(t, output, "OWNER")
	assert.Contains(t, output, "STAGE")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "dispatch")
	assert.Contains(t, output, "pending")
	assert.Contains(t, output, "2026-03-02 09:15")
}

func TestFormatRequestsList_TruncatesError(t *testing.T) {
	reqs := []model.PipelineRequest{{
		ID:          "1",
		Status:      model.RequestStatusFailed,
		ErrorDetail: "scrape_failed: " + strings.Repeat("x", 80),
	}}

	var buf bytes.Buffer
	formatRequestsList(&buf, reqs)

	output := buf.String()
	assert.Contains(t, output, "scrape_failed: ")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, strings.Repeat("x", 80))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}

func TestFormatRequestStats(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		LookbackHours:     24,
		RequestsTotal:     5,
		RequestsCompleted: 3,
		RequestsFailed:    2,
		FailureReasons:    map[string]int{"store_error": 1, "scrape_failed": 1},
		DispatchAttempts:  4,
		DispatchSent:      3,
		NeedsReauth:       1,
	}

	var buf bytes.Buffer
	formatRequestStats(&buf, snap)

	output := buf.String()
	assert.Contains(t, output, "Window:")
	assert.Contains(t, output, "24h")
	assert.Contains(t, output, "3/4")
	assert.Contains(t, output, "scrape_failed:")
	assert.Less(t, strings.Index(output, "scrape_failed"), strings.Index(output, "store_error"))
	assert.NotContains(t, output, "older requests")
}
