package destination

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/farzadghanei/navdoon/internal/shelf"
)

// lineFormatter renders one flush record as a destination-specific line.
type lineFormatter func(name string, value float64, timestampUnix int64) string

// StreamDestination writes Carbon-format lines to an arbitrary
// io.Writer, flushing (if the writer supports it) before Flush returns.
// Used for flush-stdout.
type StreamDestination struct {
	name string
	w    io.Writer
}

// NewStream wraps w as a Carbon-line destination. name is used only for
// logging (e.g. "stdout").
func NewStream(name string, w io.Writer) *StreamDestination {
	return &StreamDestination{name: name, w: w}
}

// Name implements Destination.
func (s *StreamDestination) Name() string { return s.name }

// Flush implements Destination.
func (s *StreamDestination) Flush(_ context.Context, records []shelf.FlushRecord) error {
	for _, r := range records {
		if _, err := io.WriteString(s.w, formatLine(r.Name, r.Value, r.Timestamp.Unix())); err != nil {
			return fmt.Errorf("write to %s: %w", s.name, err)
		}
	}
	if f, ok := s.w.(interface{ Sync() error }); ok {
		return f.Sync()
	}
	if f, ok := s.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close implements Destination. StreamDestination does not own its
// writer's lifecycle (e.g. os.Stdout), so Close is a no-op.
func (s *StreamDestination) Close() error { return nil }

// FileDestination appends Carbon-format lines to a file, created if
// necessary, and fsyncs after each flush.
type FileDestination struct {
	path string
	file *os.File
	fmt  lineFormatter
}

// NewFile opens (creating if necessary) path for append and returns a
// Carbon-format file destination.
func NewFile(path string) (*FileDestination, error) {
	return newFileDestination(path, formatLine)
}

// NewCSVFile opens (creating if necessary) path for append and returns
// a CSV-format file destination.
func NewCSVFile(path string) (*FileDestination, error) {
	return newFileDestination(path, formatCSVLine)
}

func newFileDestination(path string, f lineFormatter) (*FileDestination, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FileDestination{path: path, file: file, fmt: f}, nil
}

// Name implements Destination.
func (f *FileDestination) Name() string { return f.path }

// Flush implements Destination.
func (f *FileDestination) Flush(_ context.Context, records []shelf.FlushRecord) error {
	for _, r := range records {
		if _, err := f.file.WriteString(f.fmt(r.Name, r.Value, r.Timestamp.Unix())); err != nil {
			return fmt.Errorf("write to %s: %w", f.path, err)
		}
	}
	return f.file.Sync()
}

// Close implements Destination.
func (f *FileDestination) Close() error {
	return f.file.Close()
}
