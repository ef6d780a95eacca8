// Package scheduler implements the shared-link scheduler: it serializes
// prioritized, possibly-batchable requests from independent actuator
// drivers onto a single transport, retrying transient failures and
// quarantining the link on fatal ones. It generalizes a per-tag
// FETCH/OWNED/COMMIT state machine from "one kernel I/O slot at a time" to
// "one wire frame at a time, drawn from four priority classes with
// opportunistic batching."
package scheduler

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shimmerlabs/animacore/internal/constants"
	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
	"github.com/shimmerlabs/animacore/internal/transport"
)

// Result is delivered on a submission's result channel once a request
// completes, is cancelled, times out, or the scheduler is stopped.
type Result struct {
	Reply []byte
	Err   error
}

// Merger combines a contiguous run of homogeneous, batchable requests for
// the same device into a single compound wire frame. Drivers that don't
// support batching simply don't mark requests Batchable; Merger may be nil
// in that case.
type Merger interface {
	// Merge returns the combined payload for reqs, and the reply length to
	// read back, or an error if reqs can't actually be combined (in which
	// case the scheduler falls back to submitting reqs[0] alone and retries
	// the remainder on the next cycle).
	Merge(reqs []*model.Request) (payload []byte, replyLen int, err error)
}

// Config configures a Scheduler.
type Config struct {
	Transport transport.Transport
	// Reopen constructs a replacement Transport after a fatal error; nil
	// disables automatic recovery (Stop is then the only way out of
	// quarantine).
	Reopen func() (transport.Transport, error)

	Merger   Merger
	Logger   interfaces.Logger
	Observer interfaces.Observer

	BatchSize          int
	MaxRetries         int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	QueueCapacity      int
	QuarantineDuration time.Duration
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = constants.MaxBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = constants.MaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = constants.RetryBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = constants.RetryMaxBackoff
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = constants.QueueCapacityPerPriority
	}
	if c.QuarantineDuration <= 0 {
		c.QuarantineDuration = constants.TransportQuarantineDuration
	}
}

// submission is one queued Request plus the channel its Result is delivered
// on and the time it was accepted (for deadline and stat purposes).
type submission struct {
	req      *model.Request
	result   chan Result
	queuedAt time.Time
}

// Scheduler is the shared-link scheduler (C2). One Scheduler owns one
// transport; a deployment with more than one physical link runs one
// Scheduler per link.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	queues  [4]*list.List // indexed by model.Priority
	closed  bool
	link    transport.Transport
	linkErr error // set while quarantined

	wake chan struct{}

	// stats, read by a metrics collector on scrape; guarded by mu and
	// written by the worker as well as by submit and CancelDevice.
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Stats are the scheduler's observable counters: queue depths per priority
// class, batching ratio, and retry/failure counters.
type Stats struct {
	QueueDepth    [4]int
	BatchedFrames uint64
	SingleFrames  uint64
	Retries       uint64
	Failures      uint64
	Quarantines   uint64
}

// New constructs a Scheduler. Call Start to begin draining queues.
func New(cfg Config) *Scheduler {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:  cfg,
		link: cfg.Transport,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	for p := range s.queues {
		s.queues[p] = list.New()
	}
	return s
}

// Start launches the worker goroutine. ctx bounds the scheduler's lifetime;
// cancelling it stops the worker and fails every request still queued with
// ctx.Err(); a frame already being written completes with its own result.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
}

// Stop halts the worker and fails every request still queued with
// ErrStopped. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Submit enqueues req and blocks until the scheduler accepts it into its
// queue (backpressure), or ctx is cancelled first. The returned channel
// receives exactly one Result once the request completes, is cancelled, or
// times out.
func (s *Scheduler) Submit(ctx context.Context, req *model.Request) (<-chan Result, error) {
	return s.submit(ctx, req, true)
}

// TrySubmit enqueues req without blocking, returning ErrQueueFull
// immediately if the request's priority class is at capacity.
func (s *Scheduler) TrySubmit(req *model.Request) (<-chan Result, error) {
	return s.submit(context.Background(), req, false)
}

func (s *Scheduler) submit(ctx context.Context, req *model.Request, block bool) (<-chan Result, error) {
	resultCh := make(chan Result, 1)
	sub := &submission{req: req, result: resultCh, queuedAt: time.Now()}
	pidx := int(req.Priority)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStopped
	}

	if s.queues[pidx].Len() >= s.cfg.QueueCapacity {
		if !block {
			s.mu.Unlock()
			return nil, ErrQueueFull
		}
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			case <-stop:
			}
		}()
		for s.queues[pidx].Len() >= s.cfg.QueueCapacity && !s.closed {
			if err := ctx.Err(); err != nil {
				close(stop)
				s.mu.Unlock()
				return nil, err
			}
			s.cond.Wait()
		}
		close(stop)
		if s.closed {
			s.mu.Unlock()
			return nil, ErrStopped
		}
	}

	s.queues[pidx].PushBack(sub)
	depth := s.queues[pidx].Len()
	s.stats.QueueDepth[pidx] = depth
	s.mu.Unlock()

	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveSubmit(uint8(req.DeviceID), uint8(req.Priority), depth)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return resultCh, nil
}

func (s *Scheduler) run() {
	defer close(s.done)
	for s.ctx.Err() == nil {
		batch, ok := s.dequeueBatch()
		if !ok {
			select {
			case <-s.ctx.Done():
			case <-s.wake:
			}
			continue
		}
		s.process(batch)
	}
	s.mu.Lock()
	err := s.ctx.Err()
	if s.closed {
		err = ErrStopped
	}
	s.mu.Unlock()
	s.drainAll(err)
}

// dequeueBatch pulls the next unit of work: a single Emergency or High
// request, or a contiguous run of up to BatchSize homogeneous Batchable
// requests from the head of Normal or Background.
func (s *Scheduler) dequeueBatch() ([]*submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.queues[model.PriorityEmergency].Front(); e != nil {
		s.queues[model.PriorityEmergency].Remove(e)
		s.recordDepthLocked()
		s.cond.Broadcast()
		return []*submission{e.Value.(*submission)}, true
	}
	if e := s.queues[model.PriorityHigh].Front(); e != nil {
		s.queues[model.PriorityHigh].Remove(e)
		s.recordDepthLocked()
		s.cond.Broadcast()
		return []*submission{e.Value.(*submission)}, true
	}

	for _, p := range []model.Priority{model.PriorityNormal, model.PriorityBackground} {
		q := s.queues[p]
		e := q.Front()
		if e == nil {
			continue
		}
		first := e.Value.(*submission)
		q.Remove(e)
		batch := []*submission{first}

		if first.req.Batchable && s.cfg.Merger != nil {
			for len(batch) < s.cfg.BatchSize {
				next := q.Front()
				if next == nil {
					break
				}
				ns := next.Value.(*submission)
				if !ns.req.Batchable || ns.req.BatchKey != first.req.BatchKey || ns.req.DeviceID != first.req.DeviceID {
					break
				}
				q.Remove(next)
				batch = append(batch, ns)
			}
		}
		s.recordDepthLocked()
		s.cond.Broadcast()
		return batch, true
	}
	return nil, false
}

func (s *Scheduler) recordDepthLocked() {
	for p := range s.queues {
		s.stats.QueueDepth[p] = s.queues[p].Len()
	}
}

// process writes batch to the wire, retrying transient failures and
// quarantining the link on fatal ones, then delivers a Result to every
// submission in the batch.
func (s *Scheduler) process(batch []*submission) {
	now := time.Now()
	live := batch[:0]
	for _, sub := range batch {
		if sub.req.Expired(now) {
			sub.result <- Result{Err: ErrRequestTimeout}
			continue
		}
		live = append(live, sub)
	}
	if len(live) == 0 {
		return
	}

	payload, replyLen, expectsReply, n := s.framePayload(live)
	live = live[:n]

	if len(live) > 1 {
		s.mu.Lock()
		s.stats.BatchedFrames++
		s.mu.Unlock()
		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveBatch(uint8(live[0].req.DeviceID), len(live))
		}
	} else {
		s.mu.Lock()
		s.stats.SingleFrames++
		s.mu.Unlock()
	}

	reply, err := s.writeWithRetry(live[0].req, payload, replyLen, expectsReply)
	latency := time.Since(now)
	success := err == nil
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveComplete(uint8(live[0].req.DeviceID), uint64(latency.Nanoseconds()), success)
	}
	for _, sub := range live {
		sub.result <- Result{Reply: reply, Err: err}
	}
}

// framePayload returns the bytes to write, the reply length to expect, and
// how many leading submissions of batch the frame carries. A single-request
// batch writes its own payload verbatim; a multi-request batch asks the
// configured Merger to combine them.
func (s *Scheduler) framePayload(batch []*submission) (payload []byte, replyLen int, expectsReply bool, n int) {
	if len(batch) == 1 {
		r := batch[0].req
		return r.Payload, r.ReplyLen, r.ExpectsReply, 1
	}
	reqs := make([]*model.Request, len(batch))
	for i, sub := range batch {
		reqs[i] = sub.req
	}
	merged, rl, err := s.cfg.Merger.Merge(reqs)
	if err != nil {
		// Merge refused a run we believed was homogeneous; fall back to the
		// first request alone and let the rest be redispatched on the next
		// wake (they were already dequeued, so re-enqueue them).
		s.requeue(batch[1:])
		r := batch[0].req
		return r.Payload, r.ReplyLen, r.ExpectsReply, 1
	}
	anyReply := false
	for _, sub := range batch {
		anyReply = anyReply || sub.req.ExpectsReply
	}
	return merged, rl, anyReply, len(batch)
}

func (s *Scheduler) requeue(subs []*submission) {
	if len(subs) == 0 {
		return
	}
	s.mu.Lock()
	for i := len(subs) - 1; i >= 0; i-- {
		pidx := int(subs[i].req.Priority)
		s.queues[pidx].PushFront(subs[i])
	}
	s.recordDepthLocked()
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// writeWithRetry writes payload to the link, retrying ErrTransientIO up to
// MaxRetries times with exponential backoff, and quarantining the link on
// ErrFatalIO.
func (s *Scheduler) writeWithRetry(req *model.Request, payload []byte, replyLen int, expectsReply bool) ([]byte, error) {
	link, quarantineErr := s.currentLink()
	if link == nil {
		return nil, quarantineErr
	}

	backoff := s.cfg.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := link.Write(ctx, payload)
		var reply []byte
		if err == nil && expectsReply {
			reply = make([]byte, replyLen)
			err = link.ReadExact(ctx, reply)
		}
		cancel()
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if isFatal(err) {
			s.quarantine(err)
			return nil, ErrTransportDown
		}

		s.mu.Lock()
		s.stats.Retries++
		s.mu.Unlock()
		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveRetry(uint8(req.DeviceID), attempt+1)
		}
		if attempt < s.cfg.MaxRetries {
			time.Sleep(backoff)
			backoff *= 4
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}
	}
	s.mu.Lock()
	s.stats.Failures++
	s.mu.Unlock()
	if s.cfg.Logger != nil {
		s.cfg.Logger.Warn("request exhausted retries", "device_id", req.DeviceID, "error", lastErr)
	}
	return nil, ErrTransportFailed
}

func isFatal(err error) bool {
	return errors.Is(err, transport.ErrFatalIO)
}

func (s *Scheduler) currentLink() (transport.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linkErr != nil {
		return nil, ErrTransportDown
	}
	return s.link, nil
}

// quarantine marks the link down, fails every pending request, and — if a
// Reopen func was configured — starts a goroutine that retries opening the
// link every QuarantineDuration until it succeeds.
func (s *Scheduler) quarantine(cause error) {
	s.mu.Lock()
	if s.linkErr != nil {
		s.mu.Unlock()
		return
	}
	s.linkErr = cause
	s.stats.Quarantines++
	s.mu.Unlock()

	if s.cfg.Logger != nil {
		s.cfg.Logger.Error("transport quarantined", "error", cause)
	}
	s.drainAll(ErrTransportDown)

	if s.cfg.Reopen == nil {
		return
	}
	go s.reopenLoop()
}

func (s *Scheduler) reopenLoop() {
	ticker := time.NewTicker(s.cfg.QuarantineDuration)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			link, err := s.cfg.Reopen()
			if err != nil {
				continue
			}
			s.mu.Lock()
			old := s.link
			s.link = link
			s.linkErr = nil
			s.mu.Unlock()
			if old != nil {
				old.Close()
			}
			if s.cfg.Logger != nil {
				s.cfg.Logger.Info("transport recovered from quarantine")
			}
			return
		}
	}
}

// drainAll fails every request currently queued with err; it does not
// touch requests already in flight through writeWithRetry (those are
// failed by their own call site).
func (s *Scheduler) drainAll(err error) {
	s.mu.Lock()
	var pending []*submission
	for p := range s.queues {
		for e := s.queues[p].Front(); e != nil; e = e.Next() {
			pending = append(pending, e.Value.(*submission))
		}
		s.queues[p].Init()
	}
	s.recordDepthLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, sub := range pending {
		sub.result <- Result{Err: err}
	}
}

// Snapshot returns a copy of the scheduler's current stats.
func (s *Scheduler) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Quarantined reports whether the link is currently quarantined, for the
// telemetry aggregator's AlertTransportDown signal.
func (s *Scheduler) Quarantined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkErr != nil
}

// CancelDevice removes every still-pending request for device from the
// Normal/High/Background queues, delivering ErrCancelled on each one's
// result channel, and returns how many were removed. It never touches the
// Emergency queue: the caller issuing an emergency stop for device is
// expected to still be submitted there, and cancelling it would race with
// itself. Used by a StopAll/ForceDisable caller that needs pending
// lower-priority writes for one device actually discarded, not merely
// outrun by Emergency-priority ordering.
func (s *Scheduler) CancelDevice(device model.DeviceID) int {
	s.mu.Lock()
	var removed []*submission
	for _, p := range []model.Priority{model.PriorityHigh, model.PriorityNormal, model.PriorityBackground} {
		q := s.queues[p]
		var next *list.Element
		for e := q.Front(); e != nil; e = next {
			next = e.Next()
			sub := e.Value.(*submission)
			if sub.req.DeviceID == device {
				q.Remove(e)
				removed = append(removed, sub)
			}
		}
	}
	s.recordDepthLocked()
	s.mu.Unlock()

	for _, sub := range removed {
		sub.result <- Result{Err: ErrCancelled}
	}
	return len(removed)
}
