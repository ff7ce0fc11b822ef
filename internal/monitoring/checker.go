package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

const (
	defaultCheckInterval = 5 * time.Minute
	// alertCooldown is how long a still-firing alert type stays quiet after
	// it was delivered.
	alertCooldown = time.Hour
)

// CheckResult summarizes one pass of the checker.
type CheckResult struct {
	Triggered  int
	Suppressed int
	Sent       int
}

// Checker evaluates pipeline health on an interval and posts new alerts to
// the webhook. An alert type that keeps firing is re-sent once per cooldown;
// one that clears is forgotten so its next breach alerts at once.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a Checker. A non-positive check interval means five
// minutes.
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
		cooldown:  alertCooldown,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately and then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs a single pass. A collection failure sends nothing and leaves
// the cooldowns untouched.
func (c *Checker) Check(ctx context.Context) CheckResult {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return CheckResult{}
	}

	alerts := c.alerter.Evaluate(snap)
	res := CheckResult{Triggered: len(alerts)}

	c.mu.Lock()
	defer c.mu.Unlock()

	firing := make(map[AlertType]bool, len(alerts))
	for _, alert := range alerts {
		firing[alert.Type] = true
		if at, ok := c.lastSent[alert.Type]; ok && c.now().Sub(at) < c.cooldown {
			res.Suppressed++
			continue
		}
		if c.alerter.SendAlerts(ctx, []Alert{alert}) == 1 {
			c.lastSent[alert.Type] = c.now()
			res.Sent++
		}
	}
	for t := range c.lastSent {
		if !firing[t] {
			delete(c.lastSent, t)
		}
	}

	log.Debug("monitoring: check complete",
		zap.Int("requests", snap.RequestsTotal),
		zap.Int("pending", snap.RequestsPending),
		zap.Int("needs_reauth", snap.NeedsReauth),
		zap.Int("alerts_triggered", res.Triggered),
		zap.Int("alerts_suppressed", res.Suppressed),
		zap.Int("alerts_sent", res.Sent),
	)
	return res
}
