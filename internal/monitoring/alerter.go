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

	"github.com/sells-group/entity-resolver/internal/config"
)

// minSample is the number of decisions below which rates are too noisy
// to alert on.
const minSample = 5

// AlertType names the rate that crossed its threshold.
type AlertType string

const (
	// AlertCorrectionRate fires when users override the top suggestion.
	AlertCorrectionRate AlertType = "correction_rate"
	// AlertManualRate fires when chosen entities were not suggested at all.
	AlertManualRate AlertType = "manual_rate"
)

// Alert is the webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a snapshot into alerts and delivers them.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter. Webhook calls time out after 10s.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns an alert for each enabled threshold the snapshot
// exceeds. A zero threshold disables its alert.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Users overriding the top suggestion often means rankings are stale.
	suggested := snap.Accepted + snap.Corrections
	if a.cfg.CorrectionRateThreshold > 0 && suggested >= minSample &&
		snap.CorrectionRate > a.cfg.CorrectionRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCorrectionRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Correction rate %.1f%% exceeds threshold %.1f%% (%d of %d suggested decisions in last %dh)",
				snap.CorrectionRate*100, a.cfg.CorrectionRateThreshold*100,
				snap.Corrections, suggested, snap.LookbackHours,
			),
			Details: map[string]any{
				"correction_rate": snap.CorrectionRate,
				"threshold":       a.cfg.CorrectionRateThreshold,
				"corrections":     snap.Corrections,
				"suggested":       suggested,
			},
			Timestamp: now,
		})
	}

	// Many manual picks means the catalog or aliases miss common inputs.
	if a.cfg.ManualRateThreshold > 0 && snap.Decisions >= minSample &&
		snap.ManualRate > a.cfg.ManualRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertManualRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Manual pick rate %.1f%% exceeds threshold %.1f%% (%d decisions in last %dh)",
				snap.ManualRate*100, a.cfg.ManualRateThreshold*100,
				snap.Decisions, snap.LookbackHours,
			),
			Details: map[string]any{
				"manual_rate": snap.ManualRate,
				"threshold":   a.cfg.ManualRateThreshold,
				"decisions":   snap.Decisions,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// delivered. Without a webhook nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	log := zap.L().With(zap.String("component", "monitoring.alerter"))

	sent := 0
	for _, alert := range alerts {
		log := log.With(zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		if err := a.post(ctx, alert); err != nil {
			log.Error("alert delivery failed", zap.Error(err))
			continue
		}
		log.Info("alert delivered")
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= http.StatusBadRequest {
		return eris.Errorf("monitoring: webhook answered %d", resp.StatusCode)
	}
	return nil
}
