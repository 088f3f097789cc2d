package printer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/cafeprint/internal/log"
)

// Monitor continuously polls for attached USB devices and reports the ones
// that went away. libusb offers no portable hotplug callback, so detach
// events are derived from the difference between two polls.
type Monitor struct {
	list     func(ctx context.Context) ([]USBDeviceInfo, error)
	interval time.Duration
	logger   zerolog.Logger

	mu          sync.Mutex
	subscribers map[int]func(USBDeviceInfo)
	nextID      int

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewMonitor creates a monitor that polls list every interval
func NewMonitor(list func(ctx context.Context) ([]USBDeviceInfo, error), interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &Monitor{
		list:        list,
		interval:    interval,
		logger:      log.WithComponent("usb-monitor"),
		subscribers: make(map[int]func(USBDeviceInfo)),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start begins monitoring. Calling it more than once has no effect.
func (m *Monitor) Start() {
	m.once.Do(func() {
		go m.run()
	})
}

// Stop stops the monitor and waits for the poll loop to exit
func (m *Monitor) Stop() {
	m.cancel()
	m.once.Do(func() { close(m.done) })
	<-m.done
}

// Subscribe registers fn for detach events. fn runs on the poll goroutine
// and may unsubscribe from inside the callback.
func (m *Monitor) Subscribe(fn func(USBDeviceInfo)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) run() {
	defer close(m.done)

	previous := m.snapshot()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			current := m.snapshot()
			if current == nil {
				continue
			}
			m.checkChanges(previous, current)
			previous = current
		}
	}
}

// snapshot returns the attached devices by key, or nil when polling failed
func (m *Monitor) snapshot() map[string]USBDeviceInfo {
	devices, err := m.list(m.ctx)
	if err != nil {
		if m.ctx.Err() == nil {
			m.logger.Warn().Err(err).Msg("device poll failed")
		}
		return nil
	}

	current := make(map[string]USBDeviceInfo, len(devices))
	for _, d := range devices {
		current[d.Key()] = d
	}
	return current
}

func (m *Monitor) checkChanges(previous, current map[string]USBDeviceInfo) {
	for key, dev := range current {
		if _, exists := previous[key]; !exists {
			m.logger.Info().Str("device", dev.Label()).Str("bus", key).Msg("device attached")
		}
	}

	for key, dev := range previous {
		if _, exists := current[key]; exists {
			continue
		}
		m.logger.Info().Str("device", dev.Label()).Str("bus", key).Msg("device detached")
		m.notify(dev)
	}
}

func (m *Monitor) notify(dev USBDeviceInfo) {
	m.mu.Lock()
	subscribers := make([]func(USBDeviceInfo), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(dev)
	}
}
