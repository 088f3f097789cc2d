package printer

import "errors"

// Expected outcomes. Callers compare with errors.Is; none of these are
// logged above debug level by the sessions themselves.
var (
	ErrUnsupported  = errors.New("transport not supported on this host")
	ErrCancelled    = errors.New("device selection cancelled")
	ErrNotConnected = errors.New("printer not connected")
	ErrNoDevice     = errors.New("no matching printer found")
)

// Connection and transfer failures. The session is left in StatusError.
var (
	ErrNoWritableChannel = errors.New("no writable characteristic found")
	ErrNoInterface       = errors.New("no claimable interface with a bulk OUT endpoint")
	ErrWriteFailed       = errors.New("write to printer failed")
)
