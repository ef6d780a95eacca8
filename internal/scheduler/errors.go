package scheduler

import "errors"

// ErrQueueFull is returned by TrySubmit when the target priority class is at
// capacity; Submit blocks instead of returning this.
var ErrQueueFull = errors.New("scheduler: queue full")

// ErrStopped is returned by Submit/TrySubmit once the scheduler has been
// stopped, and delivered as the Result.Err for anything still queued.
var ErrStopped = errors.New("scheduler: stopped")

// ErrTransportFailed is delivered when a request exhausts its retry budget
// against transient transport errors.
var ErrTransportFailed = errors.New("scheduler: transport failed after retries")

// ErrTransportDown is delivered to every request in flight and pending when
// the link suffers a fatal error and the scheduler quarantines it.
var ErrTransportDown = errors.New("scheduler: transport down")

// ErrRequestTimeout is delivered when a request's deadline elapses before
// its turn at the wire.
var ErrRequestTimeout = errors.New("scheduler: request deadline exceeded")

// ErrCancelled is delivered to a pending request removed by CancelDevice.
var ErrCancelled = errors.New("scheduler: cancelled")
