package printer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SPPServiceUUID is the Serial Port Profile service. A serial link exposes
// it as its only service with one writable channel.
const SPPServiceUUID = "00001101-0000-1000-8000-00805f9b34fb"

const (
	defaultSerialBaud  = 9600 // Default baud rate for most thermal printers
	serialPresenceTick = time.Second
)

// SerialRadio reaches paired printers through their RFCOMM/SPP serial
// ports (/dev/rfcomm*, /dev/cu.*). Discovery lists the ports; there is no
// over-the-air scan.
type SerialRadio struct {
	Baud     int
	Patterns []string // glob patterns, defaults per OS
}

// NewSerialRadio returns a serial backend with platform default patterns
func NewSerialRadio(baud int) *SerialRadio {
	if baud == 0 {
		baud = defaultSerialBaud
	}
	return &SerialRadio{Baud: baud, Patterns: defaultSerialPatterns()}
}

func defaultSerialPatterns() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/dev/cu.*"}
	case "linux":
		return []string{"/dev/rfcomm*"}
	}
	return nil
}

func (r *SerialRadio) Supported() error {
	if len(r.Patterns) == 0 {
		return fmt.Errorf("%w: no serial port patterns for %s", ErrUnsupported, runtime.GOOS)
	}
	return nil
}

func (r *SerialRadio) Scan(ctx context.Context) ([]RadioDevice, error) {
	if err := r.Supported(); err != nil {
		return nil, err
	}

	var devices []RadioDevice
	for _, pattern := range r.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad port pattern %q: %w", pattern, err)
		}
		for _, path := range matches {
			if skipSerialPort(path) {
				continue
			}
			devices = append(devices, serialDevice{path: path})
		}
	}
	return devices, nil
}

// skipSerialPort drops console and debug ports macOS always lists
func skipSerialPort(path string) bool {
	for _, skip := range []string{"debug-console", "Bluetooth-Incoming-Port", "KeySerial"} {
		if strings.Contains(path, skip) {
			return true
		}
	}
	return false
}

func (r *SerialRadio) Connect(ctx context.Context, dev RadioDevice) (RadioLink, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name: dev.Address(),
		Baud: r.Baud,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	link := &serialLink{
		path: dev.Address(),
		port: port,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go link.watchPresence()
	return link, nil
}

type serialDevice struct {
	path string
}

func (d serialDevice) Address() string { return d.path }

// Name is the port name without the /dev prefix and the cu./tty. marker
func (d serialDevice) Name() string {
	name := filepath.Base(d.path)
	name = strings.TrimPrefix(name, "cu.")
	return strings.TrimPrefix(name, "tty.")
}

func (d serialDevice) Services() []string { return []string{SPPServiceUUID} }

type serialLink struct {
	path string
	port *serial.Port
	mu   sync.Mutex

	done     chan struct{} // closed when the port node disappears
	stop     chan struct{}
	stopOnce sync.Once
}

func (l *serialLink) Services(context.Context) ([]RadioService, error) {
	return []RadioService{serialService{link: l}}, nil
}

func (l *serialLink) Disconnected() <-chan struct{} {
	return l.done
}

func (l *serialLink) Close() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stop)
		l.mu.Lock()
		err = l.port.Close()
		l.mu.Unlock()
	})
	return err
}

// watchPresence reports a disconnect when the RFCOMM device node goes away,
// which is how the kernel signals a dropped link
func (l *serialLink) watchPresence() {
	ticker := time.NewTicker(serialPresenceTick)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if _, err := os.Stat(l.path); os.IsNotExist(err) {
				close(l.done)
				return
			}
		}
	}
}

func (l *serialLink) write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.port.Write(data)
	return err
}

type serialService struct {
	link *serialLink
}

func (s serialService) UUID() string { return SPPServiceUUID }

func (s serialService) Channels() []RadioChannel {
	return []RadioChannel{serialChannel{link: s.link}}
}

type serialChannel struct {
	link *serialLink
}

func (c serialChannel) UUID() string   { return SPPServiceUUID }
func (c serialChannel) Writable() bool { return true }

func (c serialChannel) Write(ctx context.Context, data []byte) error {
	return c.link.write(ctx, data)
}
