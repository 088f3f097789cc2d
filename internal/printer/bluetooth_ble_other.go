//go:build !linux

package printer

import (
	"context"
	"fmt"
	"runtime"
)

// BLERadio is only backed by a controller on Linux. Elsewhere it reports
// ErrUnsupported; use the serial backend for paired SPP printers.
type BLERadio struct{}

func NewBLERadio() *BLERadio {
	return &BLERadio{}
}

func (r *BLERadio) Supported() error {
	return fmt.Errorf("%w: BLE backend unavailable on %s", ErrUnsupported, runtime.GOOS)
}

func (r *BLERadio) Scan(context.Context) ([]RadioDevice, error) {
	return nil, r.Supported()
}

func (r *BLERadio) Connect(context.Context, RadioDevice) (RadioLink, error) {
	return nil, r.Supported()
}
