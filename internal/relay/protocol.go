// Package relay connects the terminal to the remote coordination service
// that hands print jobs to whichever terminal owns the printers.
package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/thereceipt/cafeprint/internal/dispatch"
	"github.com/thereceipt/cafeprint/pkg/receiptformat"
)

// Event names on the wire. Printing uses its own namespace next to the
// chat and presence traffic sharing the connection.
const (
	EventPrintJob         = "print:job"
	EventPrintJobResult   = "print:job:result"
	EventPrintRaw         = "print:raw"
	EventPrintRawResult   = "print:raw:result"
	EventPresenceAnnounce = "presence:announce"
	EventPrinterStatus    = "printer:status"
	EventPing             = "ping"
	EventPong             = "pong"
)

// Logical job targets
const (
	TargetReceipt = "receipt"
	TargetKitchen = "kitchen"
	TargetBoth    = "both"
)

// Envelope frames every message
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PrintJob asks for a receipt, a kitchen ticket or both
type PrintJob struct {
	JobID  string                    `json:"jobId"`
	Target string                    `json:"target"`
	Input  *receiptformat.BuildInput `json:"input"`
}

// PrintJobResult answers exactly one PrintJob
type PrintJobResult struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	Receipt *bool  `json:"receipt,omitempty"`
	Kitchen *bool  `json:"kitchen,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PrintRaw carries pre-encoded printer bytes
type PrintRaw struct {
	JobID  string    `json:"jobId"`
	Target string    `json:"target"` // usb or bluetooth
	Bytes  ByteArray `json:"bytes"`
}

// PrintRawResult answers exactly one PrintRaw
type PrintRawResult struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PresenceAnnounce is sent on every (re)connect
type PresenceAnnounce struct {
	TerminalID string          `json:"terminalId"`
	Name       string          `json:"name,omitempty"`
	Printers   dispatch.Status `json:"printers"`
}

// ByteArray is a byte payload written as a JSON array of numbers. It also
// accepts a base64 string.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	values := make([]int, len(b))
	for i, v := range b {
		values[i] = int(v)
	}
	return json.Marshal(values)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("bytes: invalid base64: %w", err)
		}
		*b = decoded
		return nil
	}

	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("bytes: %w", err)
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("bytes[%d]: %d out of range", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// encodeMessage wraps data in an envelope
func encodeMessage(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// peekJobID pulls the job id out of a payload that may not decode fully
func peekJobID(data json.RawMessage) string {
	var head struct {
		JobID string `json:"jobId"`
	}
	_ = json.Unmarshal(data, &head)
	return head.JobID
}
