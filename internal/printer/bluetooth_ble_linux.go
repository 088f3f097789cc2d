//go:build linux

package printer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// BLERadio drives the host controller through go-ble (BlueZ HCI socket)
type BLERadio struct {
	once   sync.Once
	device ble.Device
	err    error
}

// NewBLERadio returns an adapter that opens the controller on first use
func NewBLERadio() *BLERadio {
	return &BLERadio{}
}

func (r *BLERadio) open() (ble.Device, error) {
	r.once.Do(func() {
		dev, err := linux.NewDevice()
		if err != nil {
			r.err = fmt.Errorf("%w: %w", ErrUnsupported, err)
			return
		}
		r.device = dev
	})
	return r.device, r.err
}

func (r *BLERadio) Supported() error {
	_, err := r.open()
	return err
}

func (r *BLERadio) Scan(ctx context.Context) ([]RadioDevice, error) {
	dev, err := r.open()
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]*bleDevice)
		list []RadioDevice
	)
	err = dev.Scan(ctx, false, func(a ble.Advertisement) {
		if !a.Connectable() {
			return
		}
		addr := a.Addr().String()

		mu.Lock()
		defer mu.Unlock()
		if d, ok := seen[addr]; ok {
			if d.name == "" {
				d.name = a.LocalName()
			}
			return
		}

		d := &bleDevice{addr: a.Addr(), name: a.LocalName()}
		for _, u := range a.Services() {
			d.services = append(d.services, normalizeUUID(u.String()))
		}
		seen[addr] = d
		list = append(list, d)
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return list, nil
}

func (r *BLERadio) Connect(ctx context.Context, d RadioDevice) (RadioLink, error) {
	dev, err := r.open()
	if err != nil {
		return nil, err
	}

	addr := ble.NewAddr(d.Address())
	if bd, ok := d.(*bleDevice); ok {
		addr = bd.addr
	}

	client, err := dev.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Address(), err)
	}
	return &bleLink{client: client}, nil
}

type bleDevice struct {
	addr     ble.Addr
	name     string
	services []string
}

func (d *bleDevice) Address() string    { return d.addr.String() }
func (d *bleDevice) Name() string       { return d.name }
func (d *bleDevice) Services() []string { return d.services }

type bleLink struct {
	client ble.Client
}

func (l *bleLink) Services(ctx context.Context) ([]RadioService, error) {
	profile, err := l.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("discover profile: %w", err)
	}

	services := make([]RadioService, 0, len(profile.Services))
	for _, s := range profile.Services {
		svc := &bleService{uuid: s.UUID.String()}
		for _, c := range s.Characteristics {
			svc.channels = append(svc.channels, &bleChannel{client: l.client, char: c})
		}
		services = append(services, svc)
	}
	return services, nil
}

func (l *bleLink) Disconnected() <-chan struct{} {
	return l.client.Disconnected()
}

func (l *bleLink) Close() error {
	return l.client.CancelConnection()
}

type bleService struct {
	uuid     string
	channels []RadioChannel
}

func (s *bleService) UUID() string             { return normalizeUUID(s.uuid) }
func (s *bleService) Channels() []RadioChannel { return s.channels }

type bleChannel struct {
	client ble.Client
	char   *ble.Characteristic
}

func (c *bleChannel) UUID() string {
	return normalizeUUID(c.char.UUID.String())
}

func (c *bleChannel) Writable() bool {
	return c.char.Property&(ble.CharWrite|ble.CharWriteNR) != 0
}

// Write prefers write-without-response when the characteristic offers it
func (c *bleChannel) Write(_ context.Context, data []byte) error {
	noRsp := c.char.Property&ble.CharWriteNR != 0
	return c.client.WriteCharacteristic(c.char, data, noRsp)
}

// normalizeUUID expands go-ble's compact string form to the dashed 128-bit
// form used in configuration
func normalizeUUID(s string) string {
	u, err := ble.Parse(s)
	if err != nil {
		return strings.ToLower(s)
	}
	if len(u) == 2 {
		return fmt.Sprintf("0000%s-0000-1000-8000-00805f9b34fb", strings.ToLower(u.String()))
	}

	hex := strings.ToLower(strings.ReplaceAll(u.String(), "-", ""))
	if len(hex) != 32 {
		return hex
	}
	return hex[0:8] + "-" + hex[8:12] + "-" + hex[12:16] + "-" + hex[16:20] + "-" + hex[20:32]
}
