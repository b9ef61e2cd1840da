package collaboration

import (
	"context"
	"log/slog"
	"time"

	"relay/internal/logging"
	"relay/internal/middleware"
	"relay/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// Sweep demotes every active group member idle for longer than the idle
// threshold. Sessions outside a group are not listed anywhere and are left
// alone. If any session changed, the refreshed member list is broadcast
// once for the whole sweep. It returns the number of demoted sessions.
func (c *Controller) Sweep(ctx context.Context, now time.Time) (demoted int) {
	ctx, span := middleware.StartSpan(ctx, "Controller.Sweep")
	defer span.End()
	defer c.contain(ctx, "", "sweep", false, nil)

	start := time.Now()
	_ = c.apply("", func(out *outbox) error {
		for _, s := range c.sessions.All() {
			if s.Joined() && s.Active && s.Idle(now, c.idleThreshold) {
				s.Active = false
				demoted++
			}
		}
		if demoted == 0 {
			return nil
		}
		if c.mode == ModeDocument {
			out.toAll(models.MembersUpdatedEvent(c.summaries(models.DocumentGroupKey)), "")
			return nil
		}
		for _, key := range c.groups.Keys() {
			out.toGroup(c.snapshot(key), models.MembersUpdatedEvent(c.summaries(key)), "")
		}
		return nil
	})

	span.SetAttributes(attribute.Int("presence.demoted", demoted))
	c.metrics.Sweep(string(c.mode), time.Since(start).Seconds(), demoted)
	if demoted > 0 {
		c.logger.Debug("presence sweep", "demoted", demoted)
	}
	return demoted
}

// PresenceMonitor runs Sweep on a fixed period until its context is cancelled
type PresenceMonitor struct {
	controller *Controller
	interval   time.Duration
	logger     *slog.Logger
}

// NewPresenceMonitor creates a monitor sweeping controller every interval
func NewPresenceMonitor(controller *Controller, interval time.Duration, logger *slog.Logger) *PresenceMonitor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &PresenceMonitor{
		controller: controller,
		interval:   interval,
		logger:     logger,
	}
}

// Run blocks until ctx is done
func (m *PresenceMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("presence monitor started",
		"mode", string(m.controller.Mode()),
		"interval", m.interval,
		"idle_threshold", m.controller.idleThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("presence monitor stopped")
			return nil
		case <-ticker.C:
			m.controller.Sweep(ctx, m.controller.now())
		}
	}
}
