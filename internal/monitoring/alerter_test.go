package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{CorrectionRateThreshold: 0.3, ManualRateThreshold: 0.5}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())
	alerts := a.Evaluate(&MetricsSnapshot{
		Decisions: 20, Accepted: 18, Corrections: 2, CorrectionRate: 0.1, ManualRate: 0.1, LookbackHours: 24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_CorrectionRate(t *testing.T) {
	a := NewAlerter(thresholds())
	alerts := a.Evaluate(&MetricsSnapshot{
		Decisions: 10, Accepted: 4, Corrections: 6, CorrectionRate: 0.6, LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCorrectionRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "60.0%")
}

func TestAlerter_Evaluate_ManualRate(t *testing.T) {
	a := NewAlerter(thresholds())
	alerts := a.Evaluate(&MetricsSnapshot{Decisions: 8, Unsuggested: 6, ManualRate: 0.75, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertManualRate, alerts[0].Type)
}

func TestAlerter_Evaluate_SmallSampleIgnored(t *testing.T) {
	a := NewAlerter(thresholds())
	alerts := a.Evaluate(&MetricsSnapshot{Decisions: 3, Corrections: 3, CorrectionRate: 1, ManualRate: 1})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroThresholdDisables(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	alerts := a.Evaluate(&MetricsSnapshot{Decisions: 50, Corrections: 50, CorrectionRate: 1, ManualRate: 1})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err == nil && alert.Type == AlertCorrectionRate {
			received.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCorrectionRate, Severity: "high"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertManualRate}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	sent := NewAlerter(thresholds()).SendAlerts(context.Background(), []Alert{{Type: AlertManualRate}})
	assert.Zero(t, sent)
}
