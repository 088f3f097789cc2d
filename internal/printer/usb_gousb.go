package printer

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/rs/zerolog"

	"github.com/thereceipt/cafeprint/internal/log"
	"github.com/thereceipt/cafeprint/internal/registry"
)

// GoUSBHost talks to printers through libusb. Grants are stored in the
// device registry so AutoConnect survives restarts.
type GoUSBHost struct {
	registry *registry.Registry
	logger   zerolog.Logger

	once sync.Once
	usb  *gousb.Context
	err  error

	monitor     *Monitor
	monitorOnce sync.Once
}

// NewGoUSBHost creates a host that polls for detached devices every
// pollInterval once a session subscribes
func NewGoUSBHost(reg *registry.Registry, pollInterval time.Duration) *GoUSBHost {
	h := &GoUSBHost{
		registry: reg,
		logger:   log.WithComponent(TransportUSB),
	}
	h.monitor = NewMonitor(func(ctx context.Context) ([]USBDeviceInfo, error) {
		return h.enumerate(nil, false)
	}, pollInterval)
	return h
}

// context opens the libusb context on first use. gousb panics when libusb
// cannot be initialised, which we report as ErrUnsupported.
func (h *GoUSBHost) context() (*gousb.Context, error) {
	h.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("%w: libusb init: %v", ErrUnsupported, r)
			}
		}()
		h.usb = gousb.NewContext()
	})
	return h.usb, h.err
}

func (h *GoUSBHost) Supported() error {
	_, err := h.context()
	return err
}

func (h *GoUSBHost) Devices(ctx context.Context, vendorIDs []uint16) ([]USBDeviceInfo, error) {
	return h.enumerate(vendorIDs, true)
}

func (h *GoUSBHost) Granted(ctx context.Context, vendorIDs []uint16) ([]USBDeviceInfo, error) {
	devices, err := h.enumerate(vendorIDs, true)
	if err != nil {
		return nil, err
	}

	var granted []USBDeviceInfo
	for _, d := range devices {
		if h.registry != nil && h.registry.IsGranted(usbRegistryInfo(d)) {
			granted = append(granted, d)
		}
	}
	return granted, nil
}

func (h *GoUSBHost) Grant(dev USBDeviceInfo) {
	if h.registry == nil {
		return
	}
	id := h.registry.Grant(usbRegistryInfo(dev))
	h.logger.Info().Str("device", dev.Label()).Str("id", id).Msg("device granted")
}

// enumerate lists attached devices, restricted to vendorIDs when non-empty.
// With describe set, matching devices are opened briefly to read their
// manufacturer and product strings.
func (h *GoUSBHost) enumerate(vendorIDs []uint16, describe bool) ([]USBDeviceInfo, error) {
	usb, err := h.context()
	if err != nil {
		return nil, err
	}

	var infos []USBDeviceInfo
	devices, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if len(vendorIDs) > 0 && !slices.Contains(vendorIDs, uint16(desc.Vendor)) {
			return false
		}
		if !describe {
			infos = append(infos, descInfo(desc))
			return false
		}
		return true
	})
	if err != nil {
		// OpenDevices reports the last open error but still returns the
		// devices it could open
		h.logger.Debug().Err(err).Msg("some USB devices could not be opened")
		if len(devices) == 0 && describe {
			return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
		}
	}

	for _, dev := range devices {
		info := descInfo(dev.Desc)
		info.Manufacturer, _ = dev.Manufacturer()
		info.Product, _ = dev.Product()
		infos = append(infos, info)
		dev.Close()
	}

	return infos, nil
}

func descInfo(desc *gousb.DeviceDesc) USBDeviceInfo {
	return USBDeviceInfo{
		VendorID:  uint16(desc.Vendor),
		ProductID: uint16(desc.Product),
		Bus:       desc.Bus,
		Address:   desc.Address,
	}
}

func usbRegistryInfo(d USBDeviceInfo) registry.DeviceInfo {
	return registry.DeviceInfo{
		Type:        registry.TypeUSB,
		VID:         d.VendorID,
		PID:         d.ProductID,
		Description: d.Label(),
	}
}

func (h *GoUSBHost) Open(ctx context.Context, info USBDeviceInfo) (USBDevice, error) {
	usb, err := h.context()
	if err != nil {
		return nil, err
	}

	devices, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == info.Bus && desc.Address == info.Address
	})
	if len(devices) == 0 {
		if err != nil {
			return nil, fmt.Errorf("failed to open USB device: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, info.Key())
	}
	for _, extra := range devices[1:] {
		extra.Close()
	}

	dev := devices[0]
	// Detach the kernel printer driver (usblp) so the interface can be claimed
	if err := dev.SetAutoDetach(true); err != nil {
		h.logger.Debug().Err(err).Msg("auto detach unavailable")
	}

	return &gousbDevice{dev: dev, out: make(map[int]*gousb.OutEndpoint)}, nil
}

func (h *GoUSBHost) OnDisconnect(fn func(USBDeviceInfo)) func() {
	h.monitorOnce.Do(h.monitor.Start)
	return h.monitor.Subscribe(fn)
}

// Close stops the detach monitor and releases libusb
func (h *GoUSBHost) Close() error {
	h.monitor.Stop()
	if h.usb != nil {
		return h.usb.Close()
	}
	return nil
}

// gousbDevice adapts an open gousb device to USBDevice
type gousbDevice struct {
	dev   *gousb.Device
	cfg   *gousb.Config
	iface *gousb.Interface
	out   map[int]*gousb.OutEndpoint
}

func (d *gousbDevice) ActiveConfiguration() (int, error) {
	return d.dev.ActiveConfigNum()
}

func (d *gousbDevice) SelectConfiguration(n int) error {
	cfg, err := d.dev.Config(n)
	if err != nil {
		return err
	}
	d.cfg = cfg
	return nil
}

func (d *gousbDevice) Interfaces() []USBInterface {
	var desc gousb.ConfigDesc
	if d.cfg != nil {
		desc = d.cfg.Desc
	} else {
		num, err := d.dev.ActiveConfigNum()
		if err != nil {
			return nil
		}
		desc = d.dev.Desc.Configs[num]
	}

	ifaces := make([]USBInterface, 0, len(desc.Interfaces))
	for _, ifDesc := range desc.Interfaces {
		iface := USBInterface{Number: ifDesc.Number}
		for _, setting := range ifDesc.AltSettings {
			alt := USBAlternate{Setting: setting.Alternate}
			for _, ep := range setting.Endpoints {
				alt.Endpoints = append(alt.Endpoints, USBEndpoint{
					Number: ep.Number,
					Out:    ep.Direction == gousb.EndpointDirectionOut,
					Bulk:   ep.TransferType == gousb.TransferTypeBulk,
				})
			}
			// Endpoints come from a map; keep a stable order
			sort.Slice(alt.Endpoints, func(i, j int) bool {
				return alt.Endpoints[i].Number < alt.Endpoints[j].Number
			})
			iface.Alternates = append(iface.Alternates, alt)
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces
}

func (d *gousbDevice) Claim(iface, alt int) error {
	if d.cfg == nil {
		num, err := d.dev.ActiveConfigNum()
		if err != nil {
			return fmt.Errorf("failed to read active configuration: %w", err)
		}
		cfg, err := d.dev.Config(num)
		if err != nil {
			return fmt.Errorf("failed to set config %d: %w", num, err)
		}
		d.cfg = cfg
	}

	intf, err := d.cfg.Interface(iface, alt)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", iface, err)
	}
	d.iface = intf
	return nil
}

func (d *gousbDevice) TransferOut(ctx context.Context, endpoint int, data []byte) error {
	if d.iface == nil {
		return ErrNotConnected
	}

	out, ok := d.out[endpoint]
	if !ok {
		ep, err := d.iface.OutEndpoint(endpoint)
		if err != nil {
			return fmt.Errorf("failed to open OUT endpoint %d: %w", endpoint, err)
		}
		out = ep
		d.out[endpoint] = ep
	}

	n, err := out.WriteContext(ctx, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (d *gousbDevice) Close() error {
	if d.iface != nil {
		d.iface.Close()
		d.iface = nil
	}
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	return d.dev.Close()
}
