package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/medpanel/provider-geocoder/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "failure_rate"
	AlertReviewBacklog AlertType = "review_backlog"
)

// Alert is one breached threshold.
type Alert struct {
	Type     AlertType      `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Notification is the webhook body: every alert from one check together
// with the snapshot that raised them.
type Notification struct {
	Source   string    `json:"source"`
	Alerts   []Alert   `json:"alerts"`
	Snapshot *Snapshot `json:"snapshot"`
	SentAt   time.Time `json:"sent_at"`
}

// rule inspects a snapshot and returns an alert when its threshold is
// breached.
type rule func(cfg config.MonitoringConfig, snap *Snapshot) (Alert, bool)

var rules = []rule{failureRateRule, reviewBacklogRule}

// failureRateRule waits for MinRecords records so a handful of early
// failures does not page anyone.
func failureRateRule(cfg config.MonitoringConfig, snap *Snapshot) (Alert, bool) {
	if cfg.FailureRateThreshold <= 0 || snap.Total < cfg.MinRecords ||
		snap.FailureRate <= cfg.FailureRateThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("Geocoding failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d providers)",
			snap.FailureRate*100, cfg.FailureRateThreshold*100, snap.Failed, snap.Total),
		Details: map[string]any{
			"failure_rate": snap.FailureRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       snap.Failed,
			"total":        snap.Total,
		},
	}, true
}

func reviewBacklogRule(cfg config.MonitoringConfig, snap *Snapshot) (Alert, bool) {
	if cfg.ReviewBacklogThreshold <= 0 || snap.ReviewBacklog <= cfg.ReviewBacklogThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertReviewBacklog,
		Severity: "medium",
		Message:  fmt.Sprintf("%d providers await review (threshold %d)", snap.ReviewBacklog, cfg.ReviewBacklogThreshold),
		Details: map[string]any{
			"backlog":   snap.ReviewBacklog,
			"threshold": cfg.ReviewBacklogThreshold,
		},
	}, true
}

// Alerter evaluates snapshots against the configured thresholds and posts
// breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate returns the alerts snap triggers, in rule order.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	for _, r := range rules {
		if alert, ok := r(a.cfg, snap); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// Notify posts alerts and snap to the webhook as one Notification. It
// reports false without error when there is nothing to send or no webhook
// is configured.
func (a *Alerter) Notify(ctx context.Context, snap *Snapshot, alerts []Alert) (bool, error) {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return false, nil
	}

	payload, err := json.Marshal(Notification{
		Source:   "provider-geocoder",
		Alerts:   alerts,
		Snapshot: snap,
		SentAt:   a.now().UTC(),
	})
	if err != nil {
		return false, eris.Wrap(err, "monitoring: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return false, eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return false, eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return true, nil
}
