package printer

import (
	"context"
	"fmt"
	"time"

	"github.com/thereceipt/cafeprint/internal/metrics"
)

// writeChunks sends data through write in order, size bytes at a time,
// waiting for each write and then delay before the next one. It stops at
// the first failed chunk.
func writeChunks(ctx context.Context, transport string, data []byte, size int, delay time.Duration, write func([]byte) error) error {
	if size <= 0 {
		size = len(data)
	}

	for offset := 0; offset < len(data); offset += size {
		end := offset + size
		if end > len(data) {
			end = len(data)
		}

		if err := write(data[offset:end]); err != nil {
			return fmt.Errorf("chunk at offset %d: %w", offset, err)
		}
		metrics.IncChunksWritten(transport)

		if end == len(data) || delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}
