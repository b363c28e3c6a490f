package pipeline

import (
	"context"

	"fleet-monitor/gps-poller/internal/logging"
	"fleet-monitor/gps-poller/internal/metrics"
)

const DefaultChunkSize = 50

// writeChunks hands rows to write in slices of at most size. A failed chunk
// is logged and counted; the remaining chunks are still attempted.
func writeChunks[T any](ctx context.Context, table string, rows []T, size int, write func(context.Context, []T) error) (written, failed int) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	log := logging.FromContext(ctx)

	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunk := rows[start:end]

		if err := write(ctx, chunk); err != nil {
			failed += len(chunk)
			metrics.WriteFailures.WithLabelValues(table).Add(float64(len(chunk)))
			log.Error("chunk_write_failed",
				"table", table,
				"offset", start,
				"rows", len(chunk),
				"error", err,
			)
			continue
		}
		written += len(chunk)
		metrics.RowsWritten.WithLabelValues(table).Add(float64(len(chunk)))
	}
	return written, failed
}
