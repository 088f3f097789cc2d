package printer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var receiptPrinter = USBDeviceInfo{
	VendorID:     0x0416,
	ProductID:    0x5011,
	Bus:          1,
	Address:      7,
	Manufacturer: "Winbond",
	Product:      "POS58",
}

func fastUSBOptions() USBOptions {
	return USBOptions{
		ChunkSize:     16,
		ChunkDelay:    0,
		SelfHealDelay: 30 * time.Millisecond,
	}
}

func TestUSBSession_RequestClaimsBulkOutInterface(t *testing.T) {
	host := newFakeUSBHost(newFakeUSBDevice, receiptPrinter)
	s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
	defer s.Close()

	require.NoError(t, s.RequestAndConnect(context.Background()))
	assert.Equal(t, StatusConnected, s.Status())
	assert.Equal(t, receiptPrinter.Label(), s.DeviceName())

	dev := host.handle(0)
	assert.Equal(t, []int{1}, dev.claimed, "interface without bulk OUT is skipped")
	assert.Equal(t, 1, dev.claimedAlt)
	assert.Zero(t, dev.selected, "active configuration is kept")
	assert.True(t, host.granted[receiptPrinter.Key()])
	assert.Equal(t, 1, host.subscriberCount())

	data := payload(40)
	require.NoError(t, s.Print(context.Background(), data))
	assert.Equal(t, data, dev.written())
	assert.Equal(t, 2, dev.endpoint)
	assert.Len(t, dev.chunks, 3)
}

func TestUSBSession_SelectsConfigurationWhenUnconfigured(t *testing.T) {
	host := newFakeUSBHost(func() *fakeUSBDevice {
		d := newFakeUSBDevice()
		d.active = 0
		return d
	}, receiptPrinter)
	s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
	defer s.Close()

	require.NoError(t, s.RequestAndConnect(context.Background()))
	assert.Equal(t, 1, host.handle(0).selected)
}

func TestUSBSession_ClaimFailures(t *testing.T) {
	t.Run("next interface", func(t *testing.T) {
		host := newFakeUSBHost(func() *fakeUSBDevice {
			d := newFakeUSBDevice()
			d.interfaces = append(d.interfaces, USBInterface{Number: 2, Alternates: []USBAlternate{
				{Setting: 0, Endpoints: []USBEndpoint{{Number: 5, Out: true, Bulk: true}}},
			}})
			d.claimErr[1] = errors.New("busy")
			return d
		}, receiptPrinter)
		s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
		defer s.Close()

		require.NoError(t, s.RequestAndConnect(context.Background()))
		require.NoError(t, s.Print(context.Background(), []byte("ok")))
		assert.Equal(t, 5, host.handle(0).endpoint)
	})

	t.Run("nothing claimable", func(t *testing.T) {
		host := newFakeUSBHost(func() *fakeUSBDevice {
			d := newFakeUSBDevice()
			d.claimErr[1] = errors.New("busy")
			return d
		}, receiptPrinter)
		s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
		defer s.Close()

		err := s.RequestAndConnect(context.Background())
		require.ErrorIs(t, err, ErrNoInterface)
		assert.Contains(t, err.Error(), "busy")
		assert.Equal(t, StatusError, s.Status())
		assert.True(t, host.handle(0).isClosed())
		assert.False(t, host.granted[receiptPrinter.Key()])
	})

	t.Run("no bulk endpoint", func(t *testing.T) {
		host := newFakeUSBHost(func() *fakeUSBDevice {
			d := newFakeUSBDevice()
			d.interfaces = d.interfaces[:1]
			return d
		}, receiptPrinter)
		s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
		defer s.Close()

		assert.ErrorIs(t, s.RequestAndConnect(context.Background()), ErrNoInterface)
	})
}

func TestUSBSession_AutoConnect(t *testing.T) {
	host := newFakeUSBHost(newFakeUSBDevice, receiptPrinter)
	s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
	defer s.Close()

	assert.ErrorIs(t, s.AutoConnect(context.Background()), ErrNoDevice)
	assert.Equal(t, 0, host.openCount())

	host.Grant(receiptPrinter)
	require.NoError(t, s.AutoConnect(context.Background()))
	assert.Equal(t, StatusConnected, s.Status())

	// Already connected to the same device
	require.NoError(t, s.AutoConnect(context.Background()))
	assert.Equal(t, 1, host.openCount())
}

func TestUSBSession_ExpectedOutcomes(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		host := newFakeUSBHost(newFakeUSBDevice, receiptPrinter)
		host.unsupported = true
		s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
		assert.ErrorIs(t, s.RequestAndConnect(context.Background()), ErrUnsupported)
		assert.ErrorIs(t, s.AutoConnect(context.Background()), ErrUnsupported)
	})

	t.Run("cancelled", func(t *testing.T) {
		host := newFakeUSBHost(newFakeUSBDevice, receiptPrinter, USBDeviceInfo{VendorID: 0x04b8, Bus: 2, Address: 3})
		s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
		assert.ErrorIs(t, s.RequestAndConnect(context.Background()), ErrCancelled)
		assert.Equal(t, 0, host.openCount())
	})

	t.Run("nothing attached", func(t *testing.T) {
		s := NewUSBSession(newFakeUSBHost(newFakeUSBDevice), PreferredChooser{}, fastUSBOptions())
		assert.ErrorIs(t, s.RequestAndConnect(context.Background()), ErrNoDevice)
	})

	t.Run("print before connect", func(t *testing.T) {
		s := NewUSBSession(newFakeUSBHost(newFakeUSBDevice), PreferredChooser{}, fastUSBOptions())
		assert.ErrorIs(t, s.Print(context.Background(), []byte("x")), ErrNotConnected)
	})
}

func TestUSBSession_SelfHealAfterFailedPrint(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	failing := true
	host := newFakeUSBHost(func() *fakeUSBDevice {
		d := newFakeUSBDevice()
		d.failWrites = failing
		failing = false
		return d
	}, receiptPrinter)
	s := NewUSBSession(host, PreferredChooser{}, fastUSBOptions())
	defer s.Close()

	require.NoError(t, s.RequestAndConnect(context.Background()))

	err := s.Print(context.Background(), payload(20))
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, StatusError, s.Status())

	require.Eventually(t, func() bool { return host.openCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Status() == StatusConnected }, time.Second, 5*time.Millisecond)
	assert.True(t, host.handle(0).isClosed())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 2, host.openCount(), "exactly one self-heal attempt")

	require.NoError(t, s.Print(context.Background(), []byte("healed")))
	assert.Equal(t, []byte("healed"), host.handle(1).written())
}

func TestUSBSession_RepeatedFailuresScheduleOneSelfHeal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	host := newFakeUSBHost(func() *fakeUSBDevice {
		d := newFakeUSBDevice()
		d.failWrites = true
		return d
	}, receiptPrinter)
	opts := fastUSBOptions()
	opts.SelfHealDelay = 60 * time.Millisecond
	s := NewUSBSession(host, PreferredChooser{}, opts)
	defer s.Close()

	require.NoError(t, s.RequestAndConnect(context.Background()))
	assert.ErrorIs(t, s.Print(context.Background(), []byte("a")), ErrWriteFailed)
	assert.ErrorIs(t, s.Print(context.Background(), []byte("b")), ErrWriteFailed)
	assert.True(t, s.retry.Pending())

	require.Eventually(t, func() bool { return host.openCount() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 2, host.openCount())
}

func TestUSBSession_AmbientDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	other := USBDeviceInfo{VendorID: 0x04b8, ProductID: 0x0202, Bus: 2, Address: 4}
	host := newFakeUSBHost(newFakeUSBDevice, receiptPrinter, other)
	s := NewUSBSession(host, PreferredChooser{Match: receiptPrinter.Key()}, fastUSBOptions())
	defer s.Close()

	require.NoError(t, s.RequestAndConnect(context.Background()))

	// Events for other devices are ignored
	host.unplug(other)
	assert.Equal(t, StatusConnected, s.Status())

	host.unplug(receiptPrinter)
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.True(t, host.handle(0).isClosed())
	assert.Equal(t, 0, host.subscriberCount())
	assert.Empty(t, s.DeviceName())

	// No timer on a bare disconnect
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, host.openCount())
	assert.False(t, s.retry.Pending())
	assert.ErrorIs(t, s.Print(context.Background(), []byte("x")), ErrNotConnected)
}

func TestUSBSession_DisconnectCancelsSelfHeal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	host := newFakeUSBHost(func() *fakeUSBDevice {
		d := newFakeUSBDevice()
		d.failWrites = true
		return d
	}, receiptPrinter)
	opts := fastUSBOptions()
	opts.SelfHealDelay = 50 * time.Millisecond
	s := NewUSBSession(host, PreferredChooser{}, opts)

	require.NoError(t, s.RequestAndConnect(context.Background()))
	assert.ErrorIs(t, s.Print(context.Background(), []byte("a")), ErrWriteFailed)

	require.NoError(t, s.Disconnect())
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, host.openCount())
	assert.Equal(t, StatusDisconnected, s.Status())
	require.NoError(t, s.Close())
}

func TestUSBDeviceInfo(t *testing.T) {
	assert.Equal(t, "001:007", receiptPrinter.Key())
	assert.Equal(t, "Winbond POS58 (0416:5011)", receiptPrinter.Label())
	assert.Equal(t, "USB 04B8:0202", USBDeviceInfo{VendorID: 0x04b8, ProductID: 0x0202}.Label())
}
