// Package poller provides the clock ticks that drive schedule evaluation.
// Controllers, the collector and the health endpoint subscribe to it; service
// calls force an immediate tick through Refresh.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/iret33/ha-climate-scheduler/internal/schedule"
	"github.com/iret33/ha-climate-scheduler/pkg/pubsub"
)

// Poller is the interface consumed by subscribers.
type Poller interface {
	Subscribe() chan Update
	Unsubscribe(ch chan Update)
	Refresh()
}

// An Update is published on every tick.
type Update struct {
	Time     time.Time
	DayClass schedule.DayClass
}

var _ Poller = &TimePoller{}

// TimePoller publishes the current wall-clock time at a fixed interval.
type TimePoller struct {
	*pubsub.Publisher[Update]
	interval time.Duration
	logger   *slog.Logger
	refresh  chan struct{}

	// Now is overridden in tests
	Now func() time.Time
}

func New(interval time.Duration, logger *slog.Logger) *TimePoller {
	return &TimePoller{
		Publisher: pubsub.New[Update](logger.With(slog.String("component", "poller"))),
		interval:  interval,
		logger:    logger,
		refresh:   make(chan struct{}),
		Now:       time.Now,
	}
}

func (p *TimePoller) Run(ctx context.Context) error {
	p.logger.Debug("started", slog.Duration("interval", p.interval))
	defer p.logger.Debug("stopped")

	timer := time.NewTicker(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-p.refresh:
		}
		p.poll()
	}
}

// Refresh forces an immediate tick.
func (p *TimePoller) Refresh() {
	p.refresh <- struct{}{}
}

func (p *TimePoller) poll() {
	now := p.Now()
	p.Publisher.Publish(Update{Time: now, DayClass: schedule.DayClassOf(now)})
	p.logger.Debug("tick published", slog.Time("now", now))
}
