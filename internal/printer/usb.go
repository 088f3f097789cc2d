package printer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/cafeprint/internal/log"
	"github.com/thereceipt/cafeprint/internal/metrics"
)

// DefaultUSBVendorIDs are offered in the chooser and accepted by
// AutoConnect: Epson plus the controller vendors found in generic
// POS-58/POS-80 printers.
var DefaultUSBVendorIDs = []uint16{0x04b8, 0x0416, 0x0483, 0x1fc9, 0x28e9, 0x0fe6}

const (
	DefaultUSBChunkSize     = 512
	DefaultUSBChunkDelay    = 5 * time.Millisecond
	DefaultUSBSelfHealDelay = 2 * time.Second

	usbConnectTimeout = 10 * time.Second
)

// USBDeviceInfo identifies one attached device instance
type USBDeviceInfo struct {
	VendorID     uint16
	ProductID    uint16
	Bus          int
	Address      int
	Manufacturer string
	Product      string
}

// Key identifies the physical attachment; it changes when the device is
// replugged.
func (d USBDeviceInfo) Key() string {
	return fmt.Sprintf("%03d:%03d", d.Bus, d.Address)
}

// Label is a human readable name
func (d USBDeviceInfo) Label() string {
	if d.Manufacturer != "" || d.Product != "" {
		return fmt.Sprintf("%s %s (%04X:%04X)", d.Manufacturer, d.Product, d.VendorID, d.ProductID)
	}
	return fmt.Sprintf("USB %04X:%04X", d.VendorID, d.ProductID)
}

// USBHost is the host's USB stack
type USBHost interface {
	// Supported returns an error wrapping ErrUnsupported when the host
	// cannot talk to USB devices.
	Supported() error
	// Devices lists attached devices from the given vendors.
	Devices(ctx context.Context, vendorIDs []uint16) ([]USBDeviceInfo, error)
	// Granted lists attached devices the operator approved earlier.
	Granted(ctx context.Context, vendorIDs []uint16) ([]USBDeviceInfo, error)
	// Grant records approval for dev.
	Grant(dev USBDeviceInfo)
	Open(ctx context.Context, dev USBDeviceInfo) (USBDevice, error)
	// OnDisconnect calls fn for every detached device until unsubscribed.
	OnDisconnect(fn func(USBDeviceInfo)) (unsubscribe func())
}

// USBDevice is an open device handle
type USBDevice interface {
	// ActiveConfiguration returns 0 when the device is unconfigured
	ActiveConfiguration() (int, error)
	SelectConfiguration(n int) error
	Interfaces() []USBInterface
	// Claim claims the interface with the given alternate setting active
	Claim(iface, alt int) error
	TransferOut(ctx context.Context, endpoint int, data []byte) error
	Close() error
}

// USBInterface describes one interface of the active configuration
type USBInterface struct {
	Number     int
	Alternates []USBAlternate
}

// USBAlternate is one alternate setting of an interface
type USBAlternate struct {
	Setting   int
	Endpoints []USBEndpoint
}

// USBEndpoint describes one endpoint
type USBEndpoint struct {
	Number int
	Out    bool
	Bulk   bool
}

// bulkOut returns the first alternate setting and endpoint number of a
// bulk OUT endpoint on iface
func (iface USBInterface) bulkOut() (alt, endpoint int, ok bool) {
	for _, a := range iface.Alternates {
		for _, ep := range a.Endpoints {
			if ep.Out && ep.Bulk {
				return a.Setting, ep.Number, true
			}
		}
	}
	return 0, 0, false
}

// USBOptions configures a USBSession
type USBOptions struct {
	VendorIDs     []uint16
	ChunkSize     int
	ChunkDelay    time.Duration
	SelfHealDelay time.Duration
}

func (o *USBOptions) applyDefaults() {
	if len(o.VendorIDs) == 0 {
		o.VendorIDs = DefaultUSBVendorIDs
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultUSBChunkSize
	}
	if o.ChunkDelay < 0 {
		o.ChunkDelay = 0
	}
	if o.SelfHealDelay <= 0 {
		o.SelfHealDelay = DefaultUSBSelfHealDelay
	}
}

// USBSession is the customer receipt printer link. Permission granted once
// persists, so it can reconnect without the operator through AutoConnect.
type USBSession struct {
	host    USBHost
	chooser Chooser
	opts    USBOptions
	logger  zerolog.Logger

	status *statusCell
	retry  retryTask

	mu          sync.Mutex
	info        *USBDeviceInfo
	device      USBDevice
	endpoint    int
	unsubscribe func()
	epoch       uint64
}

// NewUSBSession creates a disconnected session
func NewUSBSession(host USBHost, chooser Chooser, opts USBOptions) *USBSession {
	opts.applyDefaults()
	return &USBSession{
		host:    host,
		chooser: chooser,
		opts:    opts,
		logger:  log.WithComponent(TransportUSB),
		status:  newStatusCell(TransportUSB),
	}
}

// Status returns the current session status
func (s *USBSession) Status() Status {
	return s.status.get()
}

// OnStatusChange registers fn for every status change
func (s *USBSession) OnStatusChange(fn func(Status)) (unsubscribe func()) {
	return s.status.subscribe(fn)
}

// DeviceName returns the label of the current device, if any
func (s *USBSession) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return ""
	}
	return s.info.Label()
}

// RequestAndConnect lists attached printers from known vendors, lets the
// operator pick one, connects and grants it for later AutoConnect calls.
func (s *USBSession) RequestAndConnect(ctx context.Context) error {
	if err := s.supported(); err != nil {
		return err
	}

	devices, err := s.host.Devices(ctx, s.opts.VendorIDs)
	if err != nil {
		return fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(devices) == 0 {
		s.logger.Debug().Msg("no receipt printers attached")
		return ErrNoDevice
	}

	candidates := make([]Candidate, len(devices))
	for i, dev := range devices {
		candidates[i] = Candidate{ID: dev.Key(), Name: dev.Label(), Detail: "bus " + dev.Key()}
	}

	idx, err := s.chooser.Choose(ctx, "Select receipt printer", candidates)
	if err != nil || idx < 0 || idx >= len(devices) {
		s.logger.Debug().Err(err).Msg("printer selection dismissed")
		return ErrCancelled
	}

	dev := devices[idx]
	if err := s.connect(ctx, dev); err != nil {
		return err
	}
	s.host.Grant(dev)
	return nil
}

// AutoConnect connects to the first previously granted printer without
// asking the operator. It returns ErrNoDevice when none is attached.
func (s *USBSession) AutoConnect(ctx context.Context) error {
	dev, err := s.firstGranted(ctx)
	if err != nil {
		return err
	}
	return s.connect(ctx, dev)
}

func (s *USBSession) firstGranted(ctx context.Context) (USBDeviceInfo, error) {
	if err := s.supported(); err != nil {
		return USBDeviceInfo{}, err
	}

	granted, err := s.host.Granted(ctx, s.opts.VendorIDs)
	if err != nil {
		return USBDeviceInfo{}, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	for _, dev := range granted {
		if slices.Contains(s.opts.VendorIDs, dev.VendorID) {
			return dev, nil
		}
	}
	return USBDeviceInfo{}, ErrNoDevice
}

func (s *USBSession) supported() error {
	if err := s.host.Supported(); err != nil {
		s.logger.Debug().Err(err).Msg("USB unavailable")
		if errors.Is(err, ErrUnsupported) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return nil
}

func (s *USBSession) connect(ctx context.Context, dev USBDeviceInfo) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	return s.connectAt(ctx, dev, epoch)
}

// connectAt opens dev, selects a configuration and claims the first
// interface that carries a bulk OUT endpoint. It gives up if Disconnect was
// called after epoch was read.
func (s *USBSession) connectAt(ctx context.Context, dev USBDeviceInfo, epoch uint64) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrCancelled
	}
	if s.device != nil && s.info != nil && s.info.Key() == dev.Key() && s.status.get() == StatusConnected {
		s.mu.Unlock()
		return nil
	}
	s.retry.Cancel()
	s.teardownLocked()
	s.status.set(StatusConnecting)
	s.mu.Unlock()

	logger := s.logger.With().Str("device", dev.Label()).Str("bus", dev.Key()).Logger()

	handle, err := s.host.Open(ctx, dev)
	if err != nil {
		s.fail(epoch)
		logger.Error().Err(err).Msg("open failed")
		return fmt.Errorf("failed to open %s: %w", dev.Label(), err)
	}

	endpoint, err := claim(handle)
	if err != nil {
		handle.Close()
		s.fail(epoch)
		logger.Error().Err(err).Msg("claim failed")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		handle.Close()
		return ErrCancelled
	}

	info := dev
	s.info = &info
	s.device = handle
	s.endpoint = endpoint
	s.unsubscribe = s.host.OnDisconnect(s.handleDisconnect)
	s.status.set(StatusConnected)

	logger.Info().Int("endpoint", endpoint).Msg("printer connected")
	return nil
}

// claim prepares an open device for bulk writes and returns the OUT
// endpoint number
func claim(dev USBDevice) (int, error) {
	active, err := dev.ActiveConfiguration()
	if err != nil || active == 0 {
		if err := dev.SelectConfiguration(1); err != nil {
			return 0, fmt.Errorf("failed to select configuration: %w", err)
		}
	}

	var lastErr error
	for _, iface := range dev.Interfaces() {
		alt, endpoint, ok := iface.bulkOut()
		if !ok {
			continue
		}
		if err := dev.Claim(iface.Number, alt); err != nil {
			lastErr = fmt.Errorf("interface %d: %w", iface.Number, err)
			continue
		}
		return endpoint, nil
	}

	if lastErr != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoInterface, lastErr)
	}
	return 0, ErrNoInterface
}

func (s *USBSession) fail(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		s.status.set(StatusError)
	}
}

// handleDisconnect clears state after the device was unplugged. Recovery is
// left to the next Print or AutoConnect.
func (s *USBSession) handleDisconnect(gone USBDeviceInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info == nil || s.info.Key() != gone.Key() {
		return
	}
	s.teardownLocked()
	s.status.set(StatusDisconnected)
	s.logger.Warn().Str("device", gone.Label()).Msg("printer disconnected")
}

// Print writes data in bulk chunks. After a failed transfer one AutoConnect
// is scheduled.
func (s *USBSession) Print(ctx context.Context, data []byte) error {
	s.mu.Lock()
	device, endpoint := s.device, s.endpoint
	if device == nil || s.status.get() == StatusDisconnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.status.set(StatusPrinting)
	s.mu.Unlock()

	err := writeChunks(ctx, TransportUSB, data, s.opts.ChunkSize, s.opts.ChunkDelay, func(chunk []byte) error {
		return device.TransferOut(ctx, endpoint, chunk)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if s.device == device {
			s.status.set(StatusError)
		}
		s.logger.Error().Err(err).Int("bytes", len(data)).Dur("retry_in", s.opts.SelfHealDelay).Msg("print failed")
		epoch := s.epoch
		s.retry.Schedule(s.opts.SelfHealDelay, func() {
			s.selfHeal(epoch)
		})
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	if s.device == device {
		s.status.set(StatusConnected)
	}
	s.logger.Debug().Int("bytes", len(data)).Msg("print complete")
	return nil
}

func (s *USBSession) selfHeal(epoch uint64) {
	metrics.IncReconnectAttempts(TransportUSB)

	ctx, cancel := context.WithTimeout(context.Background(), usbConnectTimeout)
	defer cancel()

	// Drop the handle that failed so the device is reopened
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if s.status.get() == StatusError {
		s.teardownLocked()
	}
	s.mu.Unlock()

	dev, err := s.firstGranted(ctx)
	if err == nil {
		err = s.connectAt(ctx, dev, epoch)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("self-heal failed")
		return
	}
	s.logger.Info().Msg("self-heal reconnected")
}

// Disconnect closes the device and resets to StatusDisconnected
func (s *USBSession) Disconnect() error {
	s.retry.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	err := s.teardownLocked()
	s.status.set(StatusDisconnected)
	return err
}

// Close disconnects and waits for a running self-heal to finish
func (s *USBSession) Close() error {
	err := s.Disconnect()
	s.retry.Wait()
	return err
}

func (s *USBSession) teardownLocked() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	var err error
	if s.device != nil {
		err = s.device.Close()
	}
	s.device = nil
	s.info = nil
	s.endpoint = 0
	return err
}
