package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/crew-io/crewd/internal/bus"
	"github.com/crew-io/crewd/pkg/protocol"
)

// Monitor publishes heartbeat messages on the bus at each agent's check-in
// cadence so observers can tell a quiet worker from a dead one.
type Monitor struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]cron.EntryID // handle → entry ID
	bus    *bus.Bus
	logger *slog.Logger
}

// New creates a heartbeat monitor publishing to b.
func New(b *bus.Bus, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cron:   cron.New(),
		jobs:   make(map[string]cron.EntryID),
		bus:    b,
		logger: logger,
	}
}

// Start begins the cadence scheduler. Blocks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron.Start()
	m.logger.Info("heartbeat monitor started")

	<-ctx.Done()
	m.cron.Stop()
	m.logger.Info("heartbeat monitor stopped")
	return ctx.Err()
}

// Register schedules a heartbeat for handle every intervalSeconds. A second
// registration for the same handle replaces the first.
func (m *Monitor) Register(handle string, intervalSeconds int) error {
	if intervalSeconds <= 0 {
		return fmt.Errorf("heartbeat: interval for %s must be positive, got %d", handle, intervalSeconds)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.jobs[handle]; ok {
		m.cron.Remove(id)
	}

	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	id, err := m.cron.AddFunc(spec, func() {
		m.bus.Publish(protocol.NewMessage(protocol.ChannelHeartbeat, handle, map[string]any{
			"event":            "check_in",
			"handle":           handle,
			"interval_seconds": intervalSeconds,
		}))
	})
	if err != nil {
		return fmt.Errorf("heartbeat: schedule %s: %w", handle, err)
	}

	m.jobs[handle] = id
	m.logger.Info("heartbeat registered", "handle", handle, "interval_seconds", intervalSeconds)
	return nil
}

// Remove drops the heartbeat schedule for handle.
func (m *Monitor) Remove(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.jobs[handle]; ok {
		m.cron.Remove(id)
		delete(m.jobs, handle)
	}
}

// Count returns the number of registered heartbeat schedules.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}
