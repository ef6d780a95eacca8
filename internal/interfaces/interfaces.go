// Package interfaces holds the narrow capability interfaces shared across
// animacore's internal packages. They live here, separate from the public
// API and from internal/model's plain value types, so a driver, a transport
// and a test double can all satisfy them without importing each other.
package interfaces

// Logger is the logging contract every component is constructed with. It is
// satisfied by *logging.Logger and by any test double that wants to capture
// log output without depending on zerolog.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Printf(format string, args ...any)
}

// Observer receives scheduler and transport telemetry. Implementations must
// be safe to call from the scheduler's single worker goroutine concurrently
// with a metrics scrape.
type Observer interface {
	ObserveSubmit(deviceID uint8, priority uint8, queueDepth int)
	ObserveComplete(deviceID uint8, latencyNs uint64, success bool)
	ObserveRetry(deviceID uint8, attempt int)
	ObserveBatch(deviceID uint8, size int)
}
