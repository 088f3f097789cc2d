// Package dispatch maps logical print jobs onto the two printer transports:
// customer receipts go to the wired USB printer, kitchen orders to the
// radio-linked kitchen printer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thereceipt/cafeprint/internal/log"
	"github.com/thereceipt/cafeprint/internal/metrics"
	"github.com/thereceipt/cafeprint/internal/printer"
	"github.com/thereceipt/cafeprint/internal/renderer"
	"github.com/thereceipt/cafeprint/pkg/receiptformat"
)

var (
	ErrReceiptPrinterUnavailable = errors.New("receipt printer unavailable")
	ErrKitchenPrinterUnavailable = errors.New("kitchen printer unavailable")
	ErrUnknownTransport          = errors.New("unknown transport")
)

// Session is the part of a transport session the router relies on
type Session interface {
	Status() printer.Status
	OnStatusChange(fn func(printer.Status)) (unsubscribe func())
	DeviceName() string
	RequestAndConnect(ctx context.Context) error
	Print(ctx context.Context, data []byte) error
	Disconnect() error
}

// WiredSession can reconnect to a previously granted device without asking
type WiredSession interface {
	Session
	AutoConnect(ctx context.Context) error
}

// Status is the combined state of both transports
type Status struct {
	USB       printer.Status `json:"usb"`
	Bluetooth printer.Status `json:"bluetooth"`
}

// PrinterState describes one transport for status displays
type PrinterState struct {
	Transport string         `json:"transport"`
	Status    printer.Status `json:"status"`
	Device    string         `json:"device,omitempty"`
}

// BothResult reports the outcome of PrintBoth per target
type BothResult struct {
	Receipt    bool  `json:"receipt"`
	Kitchen    bool  `json:"kitchen"`
	ReceiptErr error `json:"-"`
	KitchenErr error `json:"-"`
}

// Success reports whether both tickets printed
func (r BothResult) Success() bool {
	return r.Receipt && r.Kitchen
}

// Err joins the per-target errors, nil when both succeeded
func (r BothResult) Err() error {
	return errors.Join(r.ReceiptErr, r.KitchenErr)
}

// Options configures a Router
type Options struct {
	ReceiptPaper string
	KitchenPaper string
	// Now stamps test pages; defaults to time.Now.
	Now func() time.Time
}

// Router owns the policy of which job goes to which printer. Prints to
// one transport are serialized; the two transports run independently.
type Router struct {
	usb     WiredSession
	kitchen Session
	opts    Options
	logger  zerolog.Logger

	usbMu     sync.Mutex
	kitchenMu sync.Mutex

	mu          sync.Mutex
	subscribers map[int]func(Status)
	nextID      int
	unsubscribe []func()
}

// New creates a router over the wired receipt session and the kitchen radio
// session
func New(usb WiredSession, kitchen Session, opts Options) *Router {
	if opts.ReceiptPaper == "" {
		opts.ReceiptPaper = renderer.Paper58
	}
	if opts.KitchenPaper == "" {
		opts.KitchenPaper = renderer.Paper58
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Router{
		usb:         usb,
		kitchen:     kitchen,
		opts:        opts,
		logger:      log.WithComponent("router"),
		subscribers: make(map[int]func(Status)),
	}
	r.unsubscribe = []func(){
		usb.OnStatusChange(func(printer.Status) { r.notify() }),
		kitchen.OnStatusChange(func(printer.Status) { r.notify() }),
	}
	return r
}

// Close detaches the router from the sessions
func (r *Router) Close() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}

// Status returns the current status of both transports
func (r *Router) Status() Status {
	return Status{USB: r.usb.Status(), Bluetooth: r.kitchen.Status()}
}

// Printers describes both transports including the connected device names
func (r *Router) Printers() []PrinterState {
	return []PrinterState{
		{Transport: printer.TransportUSB, Status: r.usb.Status(), Device: r.usb.DeviceName()},
		{Transport: printer.TransportBluetooth, Status: r.kitchen.Status(), Device: r.kitchen.DeviceName()},
	}
}

// Subscribe calls fn with the combined status whenever either session
// changes. fn runs on the goroutine that changed the status and must not
// block or call back into the sessions.
func (r *Router) Subscribe(fn func(Status)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subscribers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

func (r *Router) notify() {
	status := r.Status()

	r.mu.Lock()
	subscribers := make([]func(Status), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subscribers = append(subscribers, fn)
	}
	r.mu.Unlock()

	for _, fn := range subscribers {
		fn(status)
	}
}

// PrintReceipt prints the customer receipt on the wired printer, trying
// one AutoConnect first when it is not connected. The radio printer is
// never used for receipts.
func (r *Router) PrintReceipt(ctx context.Context, in *receiptformat.BuildInput) (err error) {
	defer recordJob("receipt", &err)

	r.usbMu.Lock()
	defer r.usbMu.Unlock()

	if err := r.ensureWired(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("receipt printer unavailable")
		return fmt.Errorf("%w: %w", ErrReceiptPrinterUnavailable, err)
	}

	data := renderer.EncodeReceipt(in, r.opts.ReceiptPaper)
	if err := r.usb.Print(ctx, data); err != nil {
		return fmt.Errorf("failed to print receipt: %w", err)
	}

	r.logger.Info().Str("order", orderNumber(in)).Int("bytes", len(data)).Msg("receipt printed")
	return nil
}

// ensureWired makes one AutoConnect attempt unless the session is connected
func (r *Router) ensureWired(ctx context.Context) error {
	if r.usb.Status() == printer.StatusConnected {
		return nil
	}
	if err := r.usb.AutoConnect(ctx); err != nil {
		return err
	}
	if r.usb.Status() != printer.StatusConnected {
		return printer.ErrNotConnected
	}
	return nil
}

// PrintKitchenOrder prints the kitchen ticket on the radio printer. The
// radio link needs an operator to connect, so there is no auto-connect.
func (r *Router) PrintKitchenOrder(ctx context.Context, in *receiptformat.BuildInput) (err error) {
	defer recordJob("kitchen", &err)

	r.kitchenMu.Lock()
	defer r.kitchenMu.Unlock()

	if r.kitchen.Status() != printer.StatusConnected {
		return fmt.Errorf("%w: %w", ErrKitchenPrinterUnavailable, printer.ErrNotConnected)
	}

	if in != nil {
		if _, unclassified := in.FoodItems(); unclassified > 0 {
			r.logger.Warn().
				Str("order", in.OrderNumber).
				Int("unclassified", unclassified).
				Msg("items without a food/drink classification left off the kitchen ticket")
		}
	}

	data := renderer.EncodeKitchenOrder(in, r.opts.KitchenPaper)
	if err := r.kitchen.Print(ctx, data); err != nil {
		return fmt.Errorf("failed to print kitchen order: %w", err)
	}

	r.logger.Info().Str("order", orderNumber(in)).Int("bytes", len(data)).Msg("kitchen order printed")
	return nil
}

// PrintBoth prints the receipt and the kitchen ticket concurrently. A
// failure, or a panic, on one side never affects the other.
func (r *Router) PrintBoth(ctx context.Context, in *receiptformat.BuildInput) BothResult {
	var (
		g   errgroup.Group
		res BothResult
	)

	g.Go(func() error {
		res.ReceiptErr = r.guard("receipt", func() error { return r.PrintReceipt(ctx, in) })
		return nil
	})
	g.Go(func() error {
		res.KitchenErr = r.guard("kitchen", func() error { return r.PrintKitchenOrder(ctx, in) })
		return nil
	})
	_ = g.Wait()

	res.Receipt = res.ReceiptErr == nil
	res.Kitchen = res.KitchenErr == nil
	return res
}

// guard runs fn and turns a panic into an error
func (r *Router) guard(target string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("target", target).Interface("panic", p).Msg("print panicked")
			err = fmt.Errorf("%s print panicked: %v", target, p)
		}
	}()
	return fn()
}

// PrintRawToUSB sends already encoded bytes to the wired printer
func (r *Router) PrintRawToUSB(ctx context.Context, data []byte) (err error) {
	defer recordJob(printer.TransportUSB, &err)

	r.usbMu.Lock()
	defer r.usbMu.Unlock()
	return r.usb.Print(ctx, data)
}

// PrintRawToBluetooth sends already encoded bytes to the kitchen printer
func (r *Router) PrintRawToBluetooth(ctx context.Context, data []byte) (err error) {
	defer recordJob(printer.TransportBluetooth, &err)

	r.kitchenMu.Lock()
	defer r.kitchenMu.Unlock()
	return r.kitchen.Print(ctx, data)
}

// PrintRaw routes raw bytes by transport name
func (r *Router) PrintRaw(ctx context.Context, transport string, data []byte) error {
	switch transport {
	case printer.TransportUSB:
		return r.PrintRawToUSB(ctx, data)
	case printer.TransportBluetooth:
		return r.PrintRawToBluetooth(ctx, data)
	}
	return fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
}

// ConnectUSB asks the operator to pick the receipt printer
func (r *Router) ConnectUSB(ctx context.Context) error {
	r.usbMu.Lock()
	defer r.usbMu.Unlock()
	return r.usb.RequestAndConnect(ctx)
}

// ConnectBluetooth asks the operator to pick the kitchen printer
func (r *Router) ConnectBluetooth(ctx context.Context) error {
	r.kitchenMu.Lock()
	defer r.kitchenMu.Unlock()
	return r.kitchen.RequestAndConnect(ctx)
}

// AutoConnectUSB reconnects to a previously granted receipt printer
func (r *Router) AutoConnectUSB(ctx context.Context) error {
	r.usbMu.Lock()
	defer r.usbMu.Unlock()
	return r.usb.AutoConnect(ctx)
}

// Connect runs the user-initiated connect for transport
func (r *Router) Connect(ctx context.Context, transport string) error {
	switch transport {
	case printer.TransportUSB:
		return r.ConnectUSB(ctx)
	case printer.TransportBluetooth:
		return r.ConnectBluetooth(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
}

// Disconnect closes the session for transport. It does not wait for an
// in-flight print; that print fails instead.
func (r *Router) Disconnect(transport string) error {
	switch transport {
	case printer.TransportUSB:
		return r.usb.Disconnect()
	case printer.TransportBluetooth:
		return r.kitchen.Disconnect()
	}
	return fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
}

// TestPrint prints a short self-test ticket on transport
func (r *Router) TestPrint(ctx context.Context, transport string) error {
	var (
		session Session
		paper   string
	)
	switch transport {
	case printer.TransportUSB:
		session, paper = r.usb, r.opts.ReceiptPaper
	case printer.TransportBluetooth:
		session, paper = r.kitchen, r.opts.KitchenPaper
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
	}

	lines := renderer.BuildTestPage(transport, session.DeviceName(), paper, r.opts.Now())
	return r.PrintRaw(ctx, transport, renderer.Encode(paper, lines))
}

// OpenDrawer pulses the cash drawer wired to the receipt printer
func (r *Router) OpenDrawer(ctx context.Context) error {
	r.usbMu.Lock()
	defer r.usbMu.Unlock()

	if err := r.ensureWired(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrReceiptPrinterUnavailable, err)
	}
	return r.usb.Print(ctx, renderer.DrawerKick())
}

// recordJob counts a finished job. A panic counts as a failure and keeps
// unwinding.
func recordJob(target string, err *error) {
	if p := recover(); p != nil {
		metrics.RecordPrintJob(target, false)
		panic(p)
	}
	metrics.RecordPrintJob(target, *err == nil)
}

func orderNumber(in *receiptformat.BuildInput) string {
	if in == nil {
		return ""
	}
	return in.OrderNumber
}
