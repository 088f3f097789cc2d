package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/thereceipt/cafeprint/internal/dispatch"
	"github.com/thereceipt/cafeprint/internal/printer"
	"github.com/thereceipt/cafeprint/pkg/receiptformat"
)

const transportUsage = "usb|bluetooth"

func validTransport(t string) bool {
	return t == printer.TransportUSB || t == printer.TransportBluetooth
}

// handleStatus reports both transports
// Usage: status
func (e *Executor) handleStatus() *Result {
	status := e.router.Status()
	return &Result{
		Success: true,
		Message: fmt.Sprintf("USB: %s, Bluetooth: %s", status.USB, status.Bluetooth),
		Data: map[string]interface{}{
			"status":   status,
			"printers": e.router.Printers(),
		},
	}
}

// handleConnect runs the connect flow for a transport
// Usage: connect <usb|bluetooth>
func (e *Executor) handleConnect(ctx context.Context, args []string) *Result {
	if len(args) != 1 || !validTransport(args[0]) {
		return failure("usage: connect <%s>", transportUsage)
	}

	err := e.router.Connect(ctx, args[0])
	switch {
	case err == nil:
	case errors.Is(err, printer.ErrCancelled):
		return failure("connection cancelled")
	case errors.Is(err, printer.ErrUnsupported):
		return failure("%s printing is not supported on this terminal", args[0])
	default:
		return failure("failed to connect %s printer: %v", args[0], err)
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Connected %s printer", args[0]),
		Data: map[string]interface{}{
			"status": e.router.Status(),
		},
	}
}

// handleDisconnect closes a transport
// Usage: disconnect <usb|bluetooth>
func (e *Executor) handleDisconnect(args []string) *Result {
	if len(args) != 1 || !validTransport(args[0]) {
		return failure("usage: disconnect <%s>", transportUsage)
	}

	if err := e.router.Disconnect(args[0]); err != nil {
		return failure("failed to disconnect %s printer: %v", args[0], err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Disconnected %s printer", args[0]),
	}
}

// handleTest prints a self-test ticket
// Usage: test <usb|bluetooth>
func (e *Executor) handleTest(ctx context.Context, args []string) *Result {
	if len(args) != 1 || !validTransport(args[0]) {
		return failure("usage: test <%s>", transportUsage)
	}

	if err := e.router.TestPrint(ctx, args[0]); err != nil {
		return failure("test print failed: %v", err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Test page sent to %s printer", args[0]),
	}
}

// handlePrint prints an order loaded from a file or URL
// Usage: print <receipt|kitchen|both> <order.json|url>
func (e *Executor) handlePrint(ctx context.Context, args []string) *Result {
	if len(args) != 2 {
		return failure("usage: print <receipt|kitchen|both> <order.json|url>")
	}

	target, source := args[0], args[1]
	switch target {
	case "receipt", "kitchen", "both":
	default:
		return failure("unknown print target: %s. Use: receipt, kitchen, both", target)
	}

	order, err := loadOrder(ctx, source)
	if err != nil {
		return failure("failed to load order: %v", err)
	}

	switch target {
	case "receipt":
		if err := e.router.PrintReceipt(ctx, order); err != nil {
			return failure("receipt print failed: %v", err)
		}
	case "kitchen":
		if err := e.router.PrintKitchenOrder(ctx, order); err != nil {
			return failure("kitchen print failed: %v", err)
		}
	case "both":
		res := e.router.PrintBoth(ctx, order)
		data := map[string]interface{}{
			"receipt": res.Receipt,
			"kitchen": res.Kitchen,
		}
		if !res.Success() {
			return &Result{Success: false, Error: res.Err().Error(), Data: data}
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Printed order %s on both printers", order.OrderNumber),
			Data:    data,
		}
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Printed %s for order %s", target, order.OrderNumber),
	}
}

// handleDrawer kicks the cash drawer
// Usage: drawer
func (e *Executor) handleDrawer(ctx context.Context) *Result {
	if err := e.router.OpenDrawer(ctx); err != nil {
		return failure("failed to open drawer: %v", err)
	}
	return &Result{Success: true, Message: "Drawer opened"}
}

// handleDevices lists the remembered devices
// Usage: devices
func (e *Executor) handleDevices() *Result {
	devices := e.registry.List()
	list := make([]map[string]interface{}, len(devices))
	for i, d := range devices {
		list[i] = map[string]interface{}{
			"id":          d.ID,
			"type":        d.Type,
			"description": d.Description,
			"name":        d.DisplayName(),
			"granted":     d.Granted,
		}
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Found %d device(s)", len(devices)),
		Data: map[string]interface{}{
			"devices": list,
		},
	}
}

// handleRename sets a custom name for a device
// Usage: rename <device-id> <name>
func (e *Executor) handleRename(args []string) *Result {
	if len(args) < 2 {
		return failure("usage: rename <device-id> <name>")
	}

	deviceID := args[0]
	name := strings.Join(args[1:], " ")
	if !e.registry.SetDeviceName(deviceID, name) {
		return failure("device not found: %s", deviceID)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Renamed device %s to %s", deviceID, name),
	}
}

// handleHelp handles help command
func (e *Executor) handleHelp() *Result {
	helpText := `Available Commands:

  status
    Show the state of the USB and Bluetooth printers

  connect <usb|bluetooth>
    Pick and connect a printer

  disconnect <usb|bluetooth>
    Disconnect a printer

  test <usb|bluetooth>
    Print a test page

  print <receipt|kitchen|both> <order.json|url>
    Print an order: receipt on USB, kitchen ticket on Bluetooth

  drawer
    Open the cash drawer

  devices
    List remembered devices

  rename <device-id> <name>
    Set a custom name for a device

  help
    Show this help message

Examples:
  connect bluetooth
  print both ./order-1042.json
  print receipt https://pos.example.com/orders/1042.json
  rename 6f1c2a9e "Kitchen Printer"
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}

// loadOrder reads an order from a local path or an http(s) URL
func loadOrder(ctx context.Context, source string) (*receiptformat.BuildInput, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return receiptformat.ParseFile(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid order URL: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch order: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read order from URL: %w", err)
	}

	return receiptformat.Parse(data)
}

var _ Router = (*dispatch.Router)(nil)
