// Package destination implements the flush sinks the processor fans
// out to: Graphite/Carbon over TCP, plain files, CSV files, and any
// io.Writer stream (used for stdout).
package destination

import (
	"context"
	"fmt"

	"github.com/farzadghanei/navdoon/internal/shelf"
)

// Destination accepts a batch of aggregated flush records and reports
// success or failure. Implementations are owned exclusively by the
// processor and are never called concurrently with themselves.
type Destination interface {
	// Name identifies the destination for logging.
	Name() string
	// Flush delivers records, in order. A non-nil error means the
	// whole batch was dropped for this destination only; other
	// destinations are unaffected.
	Flush(ctx context.Context, records []shelf.FlushRecord) error
	// Close releases any held resources (open files, connections).
	Close() error
}

func formatLine(name string, value float64, timestampUnix int64) string {
	return fmt.Sprintf("%s %s %d\n", name, formatValue(value), timestampUnix)
}

func formatCSVLine(name string, value float64, timestampUnix int64) string {
	return fmt.Sprintf("%s,%s,%d\n", name, formatValue(value), timestampUnix)
}

func formatValue(v float64) string {
	return fmt.Sprintf("%g", v)
}
