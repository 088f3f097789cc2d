package printer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/cafeprint/internal/log"
	"github.com/thereceipt/cafeprint/internal/metrics"
	"github.com/thereceipt/cafeprint/internal/registry"
)

// Defaults for the kitchen printer radio link
var (
	// DefaultRadioNamePrefixes match the advertised names of the thermal
	// printers we ship with.
	DefaultRadioNamePrefixes = []string{"PT-", "MTP", "RPP", "Printer", "POS", "BlueTooth Printer"}

	// DefaultRadioServices are tried in order before falling back to
	// enumerating every service.
	DefaultRadioServices = []string{
		"000018f0-0000-1000-8000-00805f9b34fb",
		"e7810a71-73ae-499d-8c15-faa9aef0c3f2",
		"49535343-fe7d-4ae5-8fa9-9fafd205e455",
	}
)

const (
	DefaultRadioChunkSize      = 20
	DefaultRadioChunkDelay     = 20 * time.Millisecond
	DefaultRadioReconnectDelay = 2 * time.Second
	DefaultRadioScanTimeout    = 5 * time.Second

	radioConnectTimeout = 15 * time.Second
)

// RadioAdapter is the host's radio stack
type RadioAdapter interface {
	// Supported returns an error wrapping ErrUnsupported when the host has
	// no usable radio.
	Supported() error
	// Scan reports the devices seen until ctx is done.
	Scan(ctx context.Context) ([]RadioDevice, error)
	Connect(ctx context.Context, dev RadioDevice) (RadioLink, error)
}

// RadioDevice is a discovered peripheral
type RadioDevice interface {
	Address() string
	Name() string
	// Services lists advertised service identifiers, possibly empty
	Services() []string
}

// RadioLink is an open connection to a peripheral
type RadioLink interface {
	Services(ctx context.Context) ([]RadioService, error)
	// Disconnected is closed when the link drops
	Disconnected() <-chan struct{}
	Close() error
}

// RadioService is one service of a connected peripheral
type RadioService interface {
	UUID() string
	Channels() []RadioChannel
}

// RadioChannel is a characteristic (or serial stream) that may accept writes
type RadioChannel interface {
	UUID() string
	// Writable reports write or write-without-response support
	Writable() bool
	Write(ctx context.Context, data []byte) error
}

// RadioOptions configures a RadioSession
type RadioOptions struct {
	NamePrefixes   []string
	Services       []string
	ChunkSize      int
	ChunkDelay     time.Duration
	ReconnectDelay time.Duration
	ScanTimeout    time.Duration
	// Registry, when set, remembers connected devices and marks them as
	// preferred in the chooser.
	Registry *registry.Registry
}

func (o *RadioOptions) applyDefaults() {
	if o.NamePrefixes == nil {
		o.NamePrefixes = DefaultRadioNamePrefixes
	}
	if o.Services == nil {
		o.Services = DefaultRadioServices
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultRadioChunkSize
	}
	if o.ChunkDelay < 0 {
		o.ChunkDelay = 0
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultRadioReconnectDelay
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = DefaultRadioScanTimeout
	}
}

// RadioSession is the kitchen printer link. It owns at most one device and
// one writable channel, and reconnects once by itself after the link drops.
type RadioSession struct {
	adapter RadioAdapter
	chooser Chooser
	opts    RadioOptions
	logger  zerolog.Logger

	status *statusCell
	retry  retryTask

	mu      sync.Mutex
	device  RadioDevice
	link    RadioLink
	channel RadioChannel
	watch   *linkWatch
	epoch   uint64 // bumped by Disconnect to void in-flight connects
}

// linkWatch tracks the goroutine waiting for one link to drop
type linkWatch struct {
	stop chan struct{}
	done chan struct{}
}

// NewRadioSession creates a disconnected session
func NewRadioSession(adapter RadioAdapter, chooser Chooser, opts RadioOptions) *RadioSession {
	opts.applyDefaults()
	return &RadioSession{
		adapter: adapter,
		chooser: chooser,
		opts:    opts,
		logger:  log.WithComponent(TransportBluetooth),
		status:  newStatusCell(TransportBluetooth),
	}
}

// Status returns the current session status
func (s *RadioSession) Status() Status {
	return s.status.get()
}

// OnStatusChange registers fn for every status change
func (s *RadioSession) OnStatusChange(fn func(Status)) (unsubscribe func()) {
	return s.status.subscribe(fn)
}

// DeviceName returns the name of the remembered device, if any
func (s *RadioSession) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return ""
	}
	return deviceLabel(s.device)
}

// RequestAndConnect scans for compatible printers, lets the operator pick
// one and connects to it. Cancelling the prompt returns ErrCancelled.
func (s *RadioSession) RequestAndConnect(ctx context.Context) error {
	if err := s.adapter.Supported(); err != nil {
		s.logger.Debug().Err(err).Msg("radio unavailable")
		if errors.Is(err, ErrUnsupported) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.opts.ScanTimeout)
	found, err := s.adapter.Scan(scanCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to scan for printers: %w", err)
	}

	devices := s.filter(found)
	if len(devices) == 0 {
		s.logger.Debug().Int("seen", len(found)).Msg("no compatible printers nearby")
		return ErrNoDevice
	}

	idx, err := s.chooser.Choose(ctx, "Select kitchen printer", s.candidates(devices))
	if err != nil || idx < 0 || idx >= len(devices) {
		s.logger.Debug().Err(err).Msg("printer selection dismissed")
		return ErrCancelled
	}

	return s.connect(ctx, devices[idx])
}

// filter keeps devices whose name matches a known prefix or that advertise
// a known service
func (s *RadioSession) filter(devices []RadioDevice) []RadioDevice {
	var out []RadioDevice
	seen := make(map[string]bool)
	for _, dev := range devices {
		key := strings.ToLower(dev.Address())
		if seen[key] || !s.matches(dev) {
			continue
		}
		seen[key] = true
		out = append(out, dev)
	}
	return out
}

func (s *RadioSession) matches(dev RadioDevice) bool {
	for _, prefix := range s.opts.NamePrefixes {
		if prefix != "" && strings.HasPrefix(dev.Name(), prefix) {
			return true
		}
	}
	for _, advertised := range dev.Services() {
		for _, known := range s.opts.Services {
			if strings.EqualFold(advertised, known) {
				return true
			}
		}
	}
	return false
}

func (s *RadioSession) candidates(devices []RadioDevice) []Candidate {
	out := make([]Candidate, len(devices))
	for i, dev := range devices {
		cand := Candidate{ID: dev.Address(), Name: deviceLabel(dev), Detail: dev.Address()}
		if s.opts.Registry != nil {
			if entry := s.opts.Registry.Lookup(radioInfo(dev)); entry != nil {
				cand.Name = entry.DisplayName()
				cand.Preferred = true
			}
		}
		out[i] = cand
	}
	return out
}

// connect opens dev and negotiates a writable channel
func (s *RadioSession) connect(ctx context.Context, dev RadioDevice) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	return s.connectAt(ctx, dev, epoch)
}

// connectAt connects unless Disconnect was called after epoch was read
func (s *RadioSession) connectAt(ctx context.Context, dev RadioDevice, epoch uint64) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.retry.Cancel()
	s.device = dev
	s.status.set(StatusConnecting)
	s.mu.Unlock()

	logger := s.logger.With().Str("device", deviceLabel(dev)).Str("address", dev.Address()).Logger()

	link, err := s.adapter.Connect(ctx, dev)
	if err != nil {
		s.fail(epoch)
		logger.Error().Err(err).Msg("connect failed")
		return fmt.Errorf("failed to connect to %s: %w", deviceLabel(dev), err)
	}

	services, err := link.Services(ctx)
	if err != nil {
		link.Close()
		s.fail(epoch)
		logger.Error().Err(err).Msg("service discovery failed")
		return fmt.Errorf("failed to discover services on %s: %w", deviceLabel(dev), err)
	}

	channel, fallback := findWritableChannel(services, s.opts.Services)
	if channel == nil {
		link.Close()
		s.fail(epoch)
		logger.Error().Int("services", len(services)).Msg("no writable characteristic")
		return ErrNoWritableChannel
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		link.Close()
		return ErrCancelled
	}
	old, _ := s.detachLocked()
	s.link = link
	s.channel = channel
	s.watch = &linkWatch{stop: make(chan struct{}), done: make(chan struct{})}
	go s.watchLink(link, s.watch)
	s.status.set(StatusConnected)
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	if s.opts.Registry != nil {
		s.opts.Registry.GetDeviceID(radioInfo(dev))
	}

	logger.Info().Str("characteristic", channel.UUID()).Bool("fallback", fallback).Msg("printer connected")
	return nil
}

// fail moves to StatusError unless a Disconnect superseded the attempt
func (s *RadioSession) fail(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		s.status.set(StatusError)
	}
}

// findWritableChannel runs the two-pass search: known services in order,
// then every service. fallback reports whether the second pass matched.
func findWritableChannel(services []RadioService, known []string) (channel RadioChannel, fallback bool) {
	for _, id := range known {
		for _, svc := range services {
			if !strings.EqualFold(svc.UUID(), id) {
				continue
			}
			if ch := firstWritable(svc); ch != nil {
				return ch, false
			}
		}
	}

	for _, svc := range services {
		if ch := firstWritable(svc); ch != nil {
			return ch, true
		}
	}
	return nil, false
}

func firstWritable(svc RadioService) RadioChannel {
	for _, ch := range svc.Channels() {
		if ch.Writable() {
			return ch
		}
	}
	return nil
}

func (s *RadioSession) watchLink(link RadioLink, w *linkWatch) {
	defer close(w.done)

	select {
	case <-w.stop:
	case <-link.Disconnected():
		s.handleDisconnect(link)
	}
}

// handleDisconnect clears the dropped link and schedules one reconnect to
// the remembered device
func (s *RadioSession) handleDisconnect(link RadioLink) {
	s.mu.Lock()
	if s.link != link {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	s.status.set(StatusDisconnected)

	if dev := s.device; dev != nil {
		epoch := s.epoch
		s.logger.Warn().Str("device", deviceLabel(dev)).Dur("retry_in", s.opts.ReconnectDelay).Msg("printer disconnected")
		s.retry.Schedule(s.opts.ReconnectDelay, func() {
			s.reconnect(dev, epoch)
		})
	}
	s.mu.Unlock()

	// Closing a BLE link can block on the radio stack
	link.Close()
}

func (s *RadioSession) reconnect(dev RadioDevice, epoch uint64) {
	metrics.IncReconnectAttempts(TransportBluetooth)
	s.logger.Info().Str("device", deviceLabel(dev)).Msg("reconnecting")

	ctx, cancel := context.WithTimeout(context.Background(), radioConnectTimeout)
	defer cancel()

	if err := s.connectAt(ctx, dev, epoch); err != nil && !errors.Is(err, ErrCancelled) {
		s.logger.Warn().Err(err).Msg("reconnect failed, reconnect manually")
	}
}

// Print writes data in small chunks. It requires StatusConnected.
func (s *RadioSession) Print(ctx context.Context, data []byte) error {
	s.mu.Lock()
	channel := s.channel
	if channel == nil || s.status.get() != StatusConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.status.set(StatusPrinting)
	s.mu.Unlock()

	err := writeChunks(ctx, TransportBluetooth, data, s.opts.ChunkSize, s.opts.ChunkDelay, func(chunk []byte) error {
		return channel.Write(ctx, chunk)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if s.channel == channel {
			s.status.set(StatusError)
		}
		s.logger.Error().Err(err).Int("bytes", len(data)).Msg("print failed")
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	if s.channel == channel {
		s.status.set(StatusConnected)
	}
	s.logger.Debug().Int("bytes", len(data)).Msg("print complete")
	return nil
}

// Disconnect closes the link and forgets the device. It is safe to call in
// any state.
func (s *RadioSession) Disconnect() error {
	s.retry.Cancel()

	s.mu.Lock()
	s.epoch++
	link, watch := s.detachLocked()
	s.device = nil
	s.status.set(StatusDisconnected)
	s.mu.Unlock()

	var err error
	if link != nil {
		err = link.Close()
	}
	if watch != nil {
		<-watch.done
	}
	return err
}

// Close disconnects and waits for a running reconnect to finish
func (s *RadioSession) Close() error {
	err := s.Disconnect()
	s.retry.Wait()
	return err
}

// detachLocked forgets the current link and stops its watcher. The caller
// closes the returned link once s.mu is released.
func (s *RadioSession) detachLocked() (RadioLink, *linkWatch) {
	link, watch := s.link, s.watch
	if watch != nil {
		close(watch.stop)
	}
	s.link = nil
	s.channel = nil
	s.watch = nil
	return link, watch
}

func deviceLabel(dev RadioDevice) string {
	if name := dev.Name(); name != "" {
		return name
	}
	return dev.Address()
}

func radioInfo(dev RadioDevice) registry.DeviceInfo {
	info := registry.DeviceInfo{Type: registry.TypeBLE, Address: dev.Address(), Description: deviceLabel(dev)}
	if strings.HasPrefix(dev.Address(), "/") {
		info.Type = registry.TypeSerial
		info.Device = dev.Address()
	}
	return info
}
