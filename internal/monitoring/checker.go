package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates learning health on a fixed interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger
}

// NewChecker creates a Checker. A non-positive interval falls back to
// five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once per interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("alert checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("collect decision metrics", zap.Error(err))
		return
	}
	c.log.Debug("decision metrics",
		zap.Int("decisions", snap.Decisions),
		zap.Float64("correction_rate", snap.CorrectionRate),
		zap.Float64("manual_rate", snap.ManualRate),
	)

	if alerts := c.alerter.Evaluate(snap); len(alerts) > 0 {
		sent := c.alerter.SendAlerts(ctx, alerts)
		c.log.Info("alerts raised", zap.Int("triggered", len(alerts)), zap.Int("sent", sent))
	}
}
