package printer

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

var errFakeWrite = errors.New("fake write failure")

// Radio fakes

type fakeRadioDevice struct {
	addr     string
	name     string
	services []string
}

func (d fakeRadioDevice) Address() string    { return d.addr }
func (d fakeRadioDevice) Name() string       { return d.name }
func (d fakeRadioDevice) Services() []string { return d.services }

type fakeRadio struct {
	mu          sync.Mutex
	unsupported bool
	devices     []RadioDevice
	services    func() []RadioService
	connectErr  error
	closeGate   chan struct{} // when set, link Close blocks until it is closed
	connects    []string
	links       []*fakeLink
}

func (r *fakeRadio) Supported() error {
	if r.unsupported {
		return ErrUnsupported
	}
	return nil
}

func (r *fakeRadio) Scan(context.Context) ([]RadioDevice, error) {
	return r.devices, nil
}

func (r *fakeRadio) Connect(_ context.Context, dev RadioDevice) (RadioLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connects = append(r.connects, dev.Address())
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	link := &fakeLink{services: r.services(), dropped: make(chan struct{}), closeGate: r.closeGate}
	r.links = append(r.links, link)
	return link, nil
}

func (r *fakeRadio) connectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connects)
}

func (r *fakeRadio) lastLink() *fakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links[len(r.links)-1]
}

type fakeLink struct {
	services []RadioService
	dropped  chan struct{}
	dropOnce sync.Once

	mu        sync.Mutex
	closed    bool
	closeGate chan struct{}
}

func (l *fakeLink) Services(context.Context) ([]RadioService, error) {
	return l.services, nil
}

func (l *fakeLink) Disconnected() <-chan struct{} { return l.dropped }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	gate := l.closeGate
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// drop simulates the peripheral going out of range
func (l *fakeLink) drop() {
	l.dropOnce.Do(func() { close(l.dropped) })
}

type fakeService struct {
	uuid     string
	channels []RadioChannel
}

func (s *fakeService) UUID() string             { return s.uuid }
func (s *fakeService) Channels() []RadioChannel { return s.channels }

type fakeChannel struct {
	uuid     string
	writable bool

	mu        sync.Mutex
	chunks    [][]byte
	failAfter int // fail every write once this many chunks were accepted, 0 disables
}

func (c *fakeChannel) UUID() string   { return c.uuid }
func (c *fakeChannel) Writable() bool { return c.writable }

func (c *fakeChannel) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter > 0 && len(c.chunks) >= c.failAfter {
		return errFakeWrite
	}
	c.chunks = append(c.chunks, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.chunks, nil)
}

func (c *fakeChannel) chunkSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.chunks))
	for i, chunk := range c.chunks {
		sizes[i] = len(chunk)
	}
	return sizes
}

// USB fakes

type fakeUSBHost struct {
	mu          sync.Mutex
	unsupported bool
	devices     []USBDeviceInfo
	granted     map[string]bool
	newDevice   func() *fakeUSBDevice
	opens       []string
	handles     []*fakeUSBDevice
	subscribers map[int]func(USBDeviceInfo)
	nextID      int
}

func newFakeUSBHost(newDevice func() *fakeUSBDevice, devices ...USBDeviceInfo) *fakeUSBHost {
	return &fakeUSBHost{
		devices:     devices,
		granted:     make(map[string]bool),
		newDevice:   newDevice,
		subscribers: make(map[int]func(USBDeviceInfo)),
	}
}

func (h *fakeUSBHost) Supported() error {
	if h.unsupported {
		return ErrUnsupported
	}
	return nil
}

func (h *fakeUSBHost) Devices(context.Context, []uint16) ([]USBDeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]USBDeviceInfo(nil), h.devices...), nil
}

func (h *fakeUSBHost) Granted(context.Context, []uint16) ([]USBDeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []USBDeviceInfo
	for _, d := range h.devices {
		if h.granted[d.Key()] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (h *fakeUSBHost) Grant(dev USBDeviceInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.granted[dev.Key()] = true
}

func (h *fakeUSBHost) Open(_ context.Context, dev USBDeviceInfo) (USBDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opens = append(h.opens, dev.Key())
	d := h.newDevice()
	h.handles = append(h.handles, d)
	return d, nil
}

func (h *fakeUSBHost) OnDisconnect(fn func(USBDeviceInfo)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
	}
}

func (h *fakeUSBHost) openCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opens)
}

func (h *fakeUSBHost) handle(i int) *fakeUSBDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handles[i]
}

func (h *fakeUSBHost) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// unplug removes dev and fires the ambient disconnect event
func (h *fakeUSBHost) unplug(dev USBDeviceInfo) {
	h.mu.Lock()
	var remaining []USBDeviceInfo
	for _, d := range h.devices {
		if d.Key() != dev.Key() {
			remaining = append(remaining, d)
		}
	}
	h.devices = remaining
	subscribers := make([]func(USBDeviceInfo), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		subscribers = append(subscribers, fn)
	}
	h.mu.Unlock()

	for _, fn := range subscribers {
		fn(dev)
	}
}

type fakeUSBDevice struct {
	mu         sync.Mutex
	active     int
	selected   int
	interfaces []USBInterface
	claimErr   map[int]error
	claimed    []int
	claimedAlt int
	endpoint   int
	chunks     [][]byte
	failWrites bool
	closed     bool
}

// printerInterfaces is the layout of a typical receipt printer: a
// vendor interface with only an interrupt endpoint, then the printer class
// interface with bulk IN and OUT on its second alternate setting.
func printerInterfaces() []USBInterface {
	return []USBInterface{
		{Number: 0, Alternates: []USBAlternate{
			{Setting: 0, Endpoints: []USBEndpoint{{Number: 3, Out: true}}},
		}},
		{Number: 1, Alternates: []USBAlternate{
			{Setting: 0},
			{Setting: 1, Endpoints: []USBEndpoint{
				{Number: 1, Out: false, Bulk: true},
				{Number: 2, Out: true, Bulk: true},
			}},
		}},
	}
}

func newFakeUSBDevice() *fakeUSBDevice {
	return &fakeUSBDevice{active: 1, interfaces: printerInterfaces(), claimErr: map[int]error{}}
}

func (d *fakeUSBDevice) ActiveConfiguration() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, nil
}

func (d *fakeUSBDevice) SelectConfiguration(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selected = n
	d.active = n
	return nil
}

func (d *fakeUSBDevice) Interfaces() []USBInterface {
	return d.interfaces
}

func (d *fakeUSBDevice) Claim(iface, alt int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.claimErr[iface]; err != nil {
		return err
	}
	d.claimed = append(d.claimed, iface)
	d.claimedAlt = alt
	return nil
}

func (d *fakeUSBDevice) TransferOut(_ context.Context, endpoint int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("device closed")
	}
	if d.failWrites {
		return errFakeWrite
	}
	d.endpoint = endpoint
	d.chunks = append(d.chunks, append([]byte(nil), data...))
	return nil
}

func (d *fakeUSBDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeUSBDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeUSBDevice) written() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Join(d.chunks, nil)
}

// statusRecorder collects every status a session reports
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *statusRecorder) seen(s Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.statuses {
		if got == s {
			return true
		}
	}
	return false
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
