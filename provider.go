package replay

import "context"

// Replayer defines the contract for an instant-replay service
//
// Implementations must guarantee:
//   - Start() returns immediately (non-blocking)
//   - Wait() blocks until the ingest side terminates
//   - Stop() is idempotent (safe to call multiple times)
//   - Stats() is thread-safe (can be called from any goroutine)
type Replayer interface {
	// Start builds and launches the ingest graph, the retention store and
	// the replay RTSP server.
	//
	// This method returns immediately. The retention window fills
	// asynchronously once the upstream RTSP handshake completes; replay
	// clients connecting before the first keyframe is retained receive data
	// as soon as one arrives.
	//
	// Returns an error if:
	//   - The service was already started
	//   - A pipeline cannot be constructed
	//   - The replay service port cannot be bound
	Start(ctx context.Context) error

	// Wait blocks until the ingest side terminates: a fatal pipeline error,
	// end of stream from the source, or Stop(). Returns the runtime fault,
	// or nil on orderly termination.
	//
	// The replay server is not torn down by ingest termination; already
	// retained data stays serveable until Stop().
	Wait() error

	// Stop gracefully shuts down the service.
	//
	// This method:
	//   1. Stops client admission and closes the shared serving graph
	//   2. Releases the ingest graph via the event dispatcher
	//   3. Waits up to 3 seconds for background goroutines to finish
	//
	// Safe to call multiple times (idempotent). If called when the service
	// is not running, returns nil immediately.
	Stop() error

	// Stats returns current service statistics.
	//
	// This method is thread-safe and can be called from any goroutine.
	// Counters are updated atomically during operation.
	Stats() Stats
}
