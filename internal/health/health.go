// Package health exposes a liveness endpoint that reports the last known
// state of every scheduled entity.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/iret33/ha-climate-scheduler/internal/controller"
	"github.com/iret33/ha-climate-scheduler/internal/poller"
	"github.com/iret33/ha-climate-scheduler/internal/schedule"
)

type statePublisher interface {
	Subscribe() chan controller.StateUpdate
	Unsubscribe(ch chan controller.StateUpdate)
}

type Health struct {
	poller.Poller
	states  statePublisher
	logger  *slog.Logger
	cache   map[string]schedule.ResolvedState
	updated bool
	lock    sync.RWMutex
}

func New(p poller.Poller, states statePublisher, logger *slog.Logger) *Health {
	return &Health{
		Poller: p,
		states: states,
		logger: logger,
		cache:  make(map[string]schedule.ResolvedState),
	}
}

func (h *Health) Run(ctx context.Context) error {
	h.logger.Debug("started")
	defer h.logger.Debug("stopped")

	ch := h.states.Subscribe()
	defer h.states.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			h.lock.Lock()
			h.cache[update.Entity] = update.State
			h.updated = true
			h.lock.Unlock()
		}
	}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if !h.updated {
		http.Error(w, "no update yet", http.StatusServiceUnavailable)
		h.Poller.Refresh()
		return
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(h.cache); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
