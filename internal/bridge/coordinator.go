package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultAckTimeout bounds how long a delivered or cancelled session waits for
// the adapter's ended/errorfound before it is released anyway.
const DefaultAckTimeout = 2 * time.Second

// State of the coordinator.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateReading
	StateDelivering
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReading:
		return "reading"
	case StateDelivering:
		return "delivering"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// SuccessFunc receives the terminal result of a scan, including cancellation.
type SuccessFunc func(ScanResult)

// FailFunc receives terminal errors.
type FailFunc func(error)

// Session is the single in-flight scan.
type Session struct {
	ID        uint64
	Request   ScanRequest
	StartedAt time.Time

	success SuccessFunc
	fail    FailFunc
	cancel  context.CancelFunc

	// terminal latches once a callback has been scheduled; everything after
	// that is at most an acknowledgement.
	terminal bool
	outcome  string
	ackTimer *time.Timer
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	AckTimeout time.Duration
	Logger     *slog.Logger
}

// Coordinator enforces one active session at a time and turns the adapter's
// event stream into exactly one terminal callback per session.
type Coordinator struct {
	adapter    Adapter
	ackTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	session *Session
	lastID  uint64
}

// NewCoordinator creates a coordinator for adapter.
func NewCoordinator(adapter Adapter, cfg CoordinatorConfig) *Coordinator {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		adapter:    adapter,
		ackTimeout: cfg.AckTimeout,
		logger:     cfg.Logger.With("adapter", adapter.Name()),
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the live session, or 0.
func (c *Coordinator) SessionID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.ID
}

// Scan starts a session and returns its id, or 0 when the scan was rejected.
// success and fail must be non-nil; the Facade checks that.
func (c *Coordinator) Scan(req ScanRequest, success SuccessFunc, fail FailFunc) uint64 {
	c.mu.Lock()
	if c.state != StateIdle {
		active := c.session.ID
		c.mu.Unlock()
		sessionsTotal.WithLabelValues(c.adapter.Name(), "rejected").Inc()
		c.logger.Warn("scan rejected", "active_request_id", active)
		c.call(func() { fail(ErrAlreadyScanning) })
		return 0
	}
	c.lastID++
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        c.lastID,
		Request:   req,
		StartedAt: time.Now(),
		success:   success,
		fail:      fail,
		cancel:    cancel,
	}
	c.session = s
	c.state = StateStarting
	c.mu.Unlock()

	activeSessions.Set(1)
	c.logger.Debug("session starting", "request_id", s.ID)

	err := c.adapter.StartSession(ctx, s.ID, req, c)
	if err == nil {
		return s.ID
	}

	c.mu.Lock()
	if c.session != s || s.terminal {
		// The adapter already reported something for this session.
		c.mu.Unlock()
		return s.ID
	}
	s.terminal = true
	s.outcome = "error"
	c.releaseLocked(s)
	c.mu.Unlock()

	c.logger.Error("session failed to start", "request_id", s.ID, "error", err)
	native := asNative(err)
	c.call(func() { fail(native) })
	return s.ID
}

// Cancel stops the live session and delivers the cancelled result. It reports
// false when there is nothing left to cancel.
func (c *Coordinator) Cancel() bool {
	return c.CancelSession(0)
}

// CancelSession is Cancel restricted to session id; 0 matches any session.
func (c *Coordinator) CancelSession(id uint64) bool {
	c.mu.Lock()
	s := c.session
	if s == nil || s.terminal || (id != 0 && s.ID != id) {
		c.mu.Unlock()
		return false
	}
	s.terminal = true
	s.outcome = "cancelled"
	c.state = StateCancelling
	c.armAckLocked(s)
	c.mu.Unlock()

	c.logger.Info("session cancelled", "request_id", s.ID)
	c.adapter.StopSession(s.ID)
	s.cancel()
	c.call(func() { s.success(CancelledResult()) })
	return true
}

// Emit implements EventSink.
func (c *Coordinator) Emit(ev Event) {
	eventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	c.mu.Lock()
	s := c.session
	if s == nil || s.ID != ev.RequestID {
		c.mu.Unlock()
		staleEventsTotal.Inc()
		c.logger.Debug("stale event discarded", "request_id", ev.RequestID, "event", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case EventStarted:
		if c.state == StateStarting {
			c.state = StateReading
		}
		c.mu.Unlock()
		c.logger.Debug("session started", "request_id", s.ID)

	case EventCodeFound:
		if s.terminal {
			c.mu.Unlock()
			return
		}
		s.terminal = true
		res := resultFromPayload(ev.Payload)
		s.outcome = "success"
		if res.Cancelled {
			s.outcome = "cancelled"
		}
		c.state = StateDelivering
		c.armAckLocked(s)
		c.mu.Unlock()

		c.logger.Info("code found", "request_id", s.ID, "format", res.FormatValue(), "cancelled", res.Cancelled)
		c.adapter.StopSession(s.ID)
		c.call(func() { s.success(res) })

	case EventError:
		if s.terminal {
			c.releaseLocked(s)
			c.mu.Unlock()
			return
		}
		s.terminal = true
		s.outcome = "error"
		c.releaseLocked(s)
		c.mu.Unlock()

		reason := ev.Payload
		if reason == "" {
			reason = ErrNativeSession.Error()
		}
		c.logger.Error("session error", "request_id", s.ID, "reason", reason)
		c.adapter.StopSession(s.ID)
		c.call(func() { s.fail(&NativeError{Reason: reason}) })

	case EventEnded:
		if s.terminal {
			c.releaseLocked(s)
			c.mu.Unlock()
			return
		}
		// The native side closed without a result.
		s.terminal = true
		s.outcome = "cancelled"
		c.releaseLocked(s)
		c.mu.Unlock()

		c.logger.Info("session ended without result", "request_id", s.ID)
		c.call(func() { s.success(CancelledResult()) })

	default:
		c.mu.Unlock()
		c.logger.Warn("unknown event", "request_id", ev.RequestID, "kind", int(ev.Kind))
	}
}

func (c *Coordinator) armAckLocked(s *Session) {
	id := s.ID
	s.ackTimer = time.AfterFunc(c.ackTimeout, func() { c.ackExpired(id) })
}

func (c *Coordinator) ackExpired(id uint64) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.ID != id {
		c.mu.Unlock()
		return
	}
	c.releaseLocked(s)
	c.mu.Unlock()

	ackTimeoutsTotal.Inc()
	c.logger.Warn("no acknowledgement from adapter, session released", "request_id", id)
}

// releaseLocked frees the session. c.mu must be held.
func (c *Coordinator) releaseLocked(s *Session) {
	if s.ackTimer != nil {
		s.ackTimer.Stop()
	}
	s.cancel()
	c.session = nil
	c.state = StateIdle

	activeSessions.Set(0)
	sessionsTotal.WithLabelValues(c.adapter.Name(), s.outcome).Inc()
	sessionDuration.WithLabelValues(c.adapter.Name()).Observe(time.Since(s.StartedAt).Seconds())
}

// call runs a caller callback, keeping a panic in application code from
// unwinding into the adapter goroutine that delivered the event.
func (c *Coordinator) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("callback panicked", "panic", r)
		}
	}()
	fn()
}
