// Package constants collects the tuning knobs shared across animacore's
// components. The scheduler, stepper, sensor sampler, safety supervisor and
// telemetry aggregator fall back to these when their Config leaves the
// matching field zero.
package constants

import "time"

// Serial link parameters (C1).
const (
	// BaudRate is the fixed link speed for the Maestro-compatible protocol.
	BaudRate = 9600

	// FrameReadTimeout bounds a single reply read. The slowest legitimate
	// reply (a batched multi-channel position query) takes well under this
	// on a 9600-baud link; anything slower is treated as a transient fault.
	FrameReadTimeout = 50 * time.Millisecond

	// InterByteTimeout bounds the gap between bytes of the same frame once
	// the first byte has arrived, distinguishing a stalled mid-frame read
	// from a device that simply hasn't started replying yet.
	InterByteTimeout = 20 * time.Millisecond
)

// Scheduler tuning (C2).
const (
	// MaxBatchSize is the largest number of homogeneous servo-set commands
	// opportunistically coalesced into a single wire write.
	MaxBatchSize = 8

	// MaxRetries is the number of additional attempts after the first
	// failure before a request is reported to its submitter as failed.
	MaxRetries = 3

	// RetryBaseBackoff and RetryMaxBackoff bound the exponential backoff
	// applied between retries: base, 4x base, 16x base, capped at max.
	RetryBaseBackoff = 10 * time.Millisecond
	RetryMaxBackoff  = 160 * time.Millisecond

	// QueueCapacityPerPriority is the bound on queued-but-not-yet-submitted
	// requests per priority class; beyond it Submit blocks and TrySubmit
	// returns ErrQueueFull.
	QueueCapacityPerPriority = 256

	// TransportQuarantineDuration is the interval at which a quarantined
	// scheduler (entered on a fatal transport error) tries to reopen the
	// link through its Reopen callback, when one is configured.
	TransportQuarantineDuration = 2 * time.Second
)

// Stepper tuning (C5).
const (
	// DefaultHomingSps and DefaultMaxHomeSteps bound a homing sweep when the
	// stepper's homing_sps / max_home_steps settings are left zero.
	DefaultHomingSps    = 400.0
	DefaultMaxHomeSteps = 20000

	// StepPulseMinHighNs is the minimum high time a step pulse must hold for
	// the driver to latch it, per the default DRV8825-class microstep driver.
	StepPulseMinHighNs = 2000 * time.Nanosecond

	// HomingDebounceSamples is the number of consecutive limit-switch reads
	// required, spaced HomingDebounceInterval apart, before a homing sweep
	// accepts the edge as genuine rather than contact bounce.
	HomingDebounceSamples = 3

	// HomingDebounceInterval is the spacing between debounce samples.
	HomingDebounceInterval = 500 * time.Microsecond

	// MinStepVelocitySps is the velocity floor used when starting or ending
	// a ramp; it keeps the per-step interval finite instead of dividing by
	// zero at v=0.
	MinStepVelocitySps = 1.0
)

// Sensor sampling (C6).
const (
	// SampleInterval is the default ADC poll period.
	SampleInterval = 200 * time.Millisecond

	// ConsecutiveFailuresForDegraded is how many consecutive failed samples
	// before the sensor is reported AlertSensorDegraded rather than treating
	// a single noisy read as a fault.
	ConsecutiveFailuresForDegraded = 10
)

// Safety supervisor (C7).
const (
	// WatchdogInterval is how often the supervisor re-evaluates the sensor
	// thresholds and the e-stop input even absent a new sample, so a wedged sampler
	// goroutine cannot silently freeze the safety state at Normal.
	WatchdogInterval = 500 * time.Millisecond

	// EstopDebounce filters a momentary glitch on the e-stop input from a
	// genuine operator-asserted stop.
	EstopDebounce = 20 * time.Millisecond
)

// Command dispatch (root package).
const (
	// SchedulerRequestTimeout bounds a command that expects no device reply.
	SchedulerRequestTimeout = 500 * time.Millisecond

	// SchedulerReplyTimeout bounds a command that does expect a device reply
	// (e.g. get-position), which takes a full round trip on the link.
	SchedulerReplyTimeout = time.Second

	// HomingTimeout bounds a full homing sweep end to end.
	HomingTimeout = 30 * time.Second

	// SceneDispatchTimeout bounds issuing every move/subscript/audio cue at
	// scene start; the scene itself then runs for its own DurationS.
	SceneDispatchTimeout = 250 * time.Millisecond

	// AudioStartTimeout bounds starting external playback of a scene's clip.
	AudioStartTimeout = 500 * time.Millisecond
)

// Telemetry aggregation (C10).
const (
	// PublishInterval is the cadence at which the aggregator composes and
	// broadcasts a TelemetrySnapshot to subscribers.
	PublishInterval = 100 * time.Millisecond

	// SubscriberChannelDepth bounds the per-subscriber broadcast channel; a
	// subscriber that falls this far behind misses snapshots (it stays
	// subscribed) rather than being allowed to backpressure the aggregator.
	SubscriberChannelDepth = 4
)
