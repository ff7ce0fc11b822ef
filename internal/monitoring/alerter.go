package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRequestFailureRate AlertType = "request_failure_rate"
	AlertSendFailureRate    AlertType = "send_failure_rate"
	AlertNeedsReauth        AlertType = "needs_reauth"
	AlertBacklog            AlertType = "backlog"
)

// minSample is the fewest finished requests or sends a rate alert needs.
const minSample = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RequestsCompleted + snap.RequestsFailed
	if finished >= minSample && snap.RequestFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRequestFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Request failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RequestFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RequestsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RequestFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RequestsFailed,
				"finished":     finished,
				"reasons":      snap.FailureReasons,
			},
			Timestamp: now,
		})
	}

	if snap.DispatchAttempts >= minSample && snap.SendFailRate > a.cfg.SendFailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSendFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Send failure rate %.1f%% exceeds threshold %.1f%% (%d of %d attempts unsent in last %dh)",
				snap.SendFailRate*100, a.cfg.SendFailureRateThreshold*100,
				snap.DispatchAttempts-snap.DispatchSent, snap.DispatchAttempts, snap.LookbackHours,
			),
			Details: map[string]any{
				"send_fail_rate": snap.SendFailRate,
				"threshold":      a.cfg.SendFailureRateThreshold,
				"attempts":       snap.DispatchAttempts,
				"sent":           snap.DispatchSent,
			},
			Timestamp: now,
		})
	}

	if snap.NeedsReauth > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNeedsReauth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d dispatch(es) blocked on a lapsed mail credential in last %dh",
				snap.NeedsReauth, snap.LookbackHours,
			),
			Details: map[string]any{
				"needs_reauth": snap.NeedsReauth,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BacklogThreshold > 0 && snap.RequestsPending > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d pending requests exceed backlog threshold %d",
				snap.RequestsPending, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"pending":    snap.RequestsPending,
				"processing": snap.RequestsProcessing,
				"threshold":  a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
