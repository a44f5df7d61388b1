package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeongseonghan/ofdm-sim/internal/sim"
)

// SessionStatus represents the session state.
type SessionStatus int

const (
	StatusIdle SessionStatus = iota
	StatusQueued
	StatusRunning
	StatusCompleted
	StatusError
	StatusClosed
)

// String returns the status name.
func (s SessionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionEvent is sent to listeners when session state changes.
type SessionEvent struct {
	SessionID string                  `json:"sessionId"`
	Status    SessionStatus           `json:"status"`
	Message   string                  `json:"message,omitempty"`
	RequestID uint64                  `json:"requestId,omitempty"`
	Stage     Stage                   `json:"stage,omitempty"`
	Progress  float64                 `json:"progress"`
	Result    *sim.TransmissionResult `json:"result,omitempty"`
	Failure   *sim.Failure            `json:"failure,omitempty"`
}

// Session owns one dispatcher, so its jobs never run concurrently, and
// reports what happens to them as events.
type Session struct {
	id         string
	dispatcher *Dispatcher
	logger     *zap.Logger

	mu     sync.RWMutex
	status SessionStatus
	last   *sim.TransmissionResult

	eventChan chan SessionEvent
}

// NewSession creates a session with its own dispatcher. collector may be nil.
func NewSession(cfg Config, logger *zap.Logger, collector *Collector) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	s := &Session{
		id:        id,
		logger:    logger.With(zap.String("session_id", id)),
		eventChan: make(chan SessionEvent, 100),
	}
	s.dispatcher = NewDispatcher(cfg, s.logger, collector)
	s.dispatcher.OnProgress = s.onProgress
	s.dispatcher.OnOutcome = s.onOutcome
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current status.
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastResult returns the most recent delivered result, if any.
func (s *Session) LastResult() *sim.TransmissionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Events returns the event channel for monitoring session state.
func (s *Session) Events() <-chan SessionEvent {
	return s.eventChan
}

// Transmit submits job to the session's dispatcher.
func (s *Session) Transmit(ctx context.Context, job sim.TransmissionJob) (*Ticket, error) {
	t, err := s.dispatcher.Submit(ctx, job)
	if err != nil {
		if !errors.Is(err, ErrRateLimited) {
			s.setStatus(SessionEvent{Status: StatusError, Message: fmt.Sprintf("Submit failed: %v", err)})
		}
		return nil, err
	}
	return t, nil
}

// Latest returns the id of the request whose result the session will deliver.
func (s *Session) Latest() uint64 {
	return s.dispatcher.Latest()
}

// Close stops the dispatcher and closes the event channel.
func (s *Session) Close() error {
	err := s.dispatcher.Close()
	s.setStatus(SessionEvent{Status: StatusClosed, Message: "Session closed"})
	return err
}

func (s *Session) onProgress(p Progress) {
	status := StatusRunning
	if p.Stage == StageQueued {
		status = StatusQueued
	}
	if p.Stage == StageDone {
		return
	}
	s.setStatus(SessionEvent{
		Status:    status,
		RequestID: p.RequestID,
		Stage:     p.Stage,
		Progress:  p.Fraction,
	})
}

func (s *Session) onOutcome(o Outcome) {
	switch {
	case errors.Is(o.Err, ErrSuperseded):
		// a newer request owns the session status
	case errors.Is(o.Err, ErrClosed):
	case o.Err != nil:
		s.setStatus(SessionEvent{Status: StatusError, RequestID: o.RequestID, Message: o.Err.Error()})
	case o.Failure != nil:
		s.setStatus(SessionEvent{Status: StatusError, RequestID: o.RequestID, Message: o.Failure.Reason, Failure: o.Failure, Progress: 1})
	default:
		s.mu.Lock()
		s.last = o.Result
		s.mu.Unlock()
		s.setStatus(SessionEvent{
			Status:    StatusCompleted,
			RequestID: o.RequestID,
			Stage:     StageDone,
			Progress:  1,
			Message:   fmt.Sprintf("BER %.4g", o.Result.Metrics.BitErrorRate),
			Result:    o.Result,
		})
	}
}

func (s *Session) setStatus(event SessionEvent) {
	event.SessionID = s.id

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return
	}
	s.status = event.Status

	select {
	case s.eventChan <- event:
	default:
		s.logger.Warn("event channel full, dropping",
			zap.Stringer("status", event.Status), zap.String("message", event.Message))
	}
	if event.Status == StatusClosed {
		close(s.eventChan)
	}
}
