package printer

import (
	"sync"

	"github.com/thereceipt/cafeprint/internal/metrics"
)

// Status is the lifecycle state of a transport session
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusPrinting     Status = "printing"
	StatusError        Status = "error"
)

// Transport names used in logs, metrics and the relay protocol
const (
	TransportUSB       = "usb"
	TransportBluetooth = "bluetooth"
)

// statusCell holds a session status and fans changes out to observers.
// Observers run synchronously on the goroutine that changed the status.
type statusCell struct {
	transport string

	mu        sync.Mutex
	status    Status
	observers map[int]func(Status)
	nextID    int
}

func newStatusCell(transport string) *statusCell {
	metrics.SetTransportStatus(transport, string(StatusDisconnected))
	return &statusCell{
		transport: transport,
		status:    StatusDisconnected,
		observers: make(map[int]func(Status)),
	}
}

func (c *statusCell) get() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *statusCell) set(status Status) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	observers := make([]func(Status), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	metrics.SetTransportStatus(c.transport, string(status))
	for _, fn := range observers {
		fn(status)
	}
}

func (c *statusCell) subscribe(fn func(Status)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}
