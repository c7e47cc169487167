// Package audit records lifecycle events of enrollments, tasks and trades.
// Recording never fails the caller; sinks log their own errors.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EnrollmentCreated   = "enrollment.created"
	EnrollmentRequested = "enrollment.requested"
	EnrollmentApproved  = "enrollment.approved"
	EnrollmentRejected  = "enrollment.rejected"
	EnrollmentDropped   = "enrollment.dropped"
	EnrollmentCompleted = "enrollment.completed"
	TaskUnlocked        = "task.unlocked"
	TaskPassed          = "task.passed"
	TradeSubmitted      = "trade.submitted"
	TradeOverridden     = "trade.overridden"
)

// DetailInitial is set on task.unlocked when the task is the first one
// opened for a new enrollment.
const DetailInitial = "initial"

type Event struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	ActorID      uint           `json:"actor_id,omitempty"`
	EnrollmentID uint           `json:"enrollment_id,omitempty"`
	TaskID       uint           `json:"task_id,omitempty"`
	TradeID      uint           `json:"trade_id,omitempty"`
	At           time.Time      `json:"at"`
	Details      map[string]any `json:"details,omitempty"`
}

func NewEvent(action string) Event {
	return Event{
		ID:     uuid.NewString(),
		Action: action,
		At:     time.Now().UTC(),
	}
}

type Sink interface {
	Record(ctx context.Context, e Event)
}

type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Multi fans an event out to every sink.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}

type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Record(_ context.Context, e Event) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("action", e.Action),
		zap.Time("at", e.At),
	}
	if e.ActorID != 0 {
		fields = append(fields, zap.Uint("actor_id", e.ActorID))
	}
	if e.EnrollmentID != 0 {
		fields = append(fields, zap.Uint("enrollment_id", e.EnrollmentID))
	}
	if e.TaskID != 0 {
		fields = append(fields, zap.Uint("task_id", e.TaskID))
	}
	if e.TradeID != 0 {
		fields = append(fields, zap.Uint("trade_id", e.TradeID))
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	s.Logger.Info("audit", fields...)
}
