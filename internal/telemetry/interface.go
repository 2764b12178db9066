package telemetry

import "context"

// Recorder is the append-only history log
type Recorder interface {
	Append(ctx context.Context, entry Entry) error
	// LastN returns at most n entries with the greatest keys. Result order
	// is not ascending; callers sort.
	LastN(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// Repository defines the interface for history storage
type Repository interface {
	Append(entry Entry) error
	LastN(n int) ([]Entry, error)
	Close() error
}

// Entry is one history sample keyed by its insertion key
type Entry struct {
	Key         string
	Temperature float64
	Humidity    float64
	Gas         float64
}
