package modules

import (
	"context"
	"time"

	"github.com/syzsky/autodoor/internal/events"
)

// Alarm plays the audible trigger cue.
type Alarm interface {
	Play()
}

// Notifier receives status events.
type Notifier interface {
	Publish(event events.Event)
}

// Trigger is one fired group, as stored in the history.
type Trigger struct {
	Module  Kind
	GroupID string
	Detail  string
	At      time.Time
}

// Recorder persists fired triggers.
type Recorder interface {
	RecordTrigger(ctx context.Context, t Trigger) error
}

// Hooks are the optional collaborators a module reports to. Nil fields
// behave as no-ops.
type Hooks struct {
	Alarm    Alarm
	Notifier Notifier
	Recorder Recorder
}

type nopAlarm struct{}

func (nopAlarm) Play() {}

type nopNotifier struct{}

func (nopNotifier) Publish(events.Event) {}

type nopRecorder struct{}

func (nopRecorder) RecordTrigger(context.Context, Trigger) error { return nil }

// Fill returns h with every nil collaborator replaced by a no-op.
func (h Hooks) Fill() Hooks {
	if h.Alarm == nil {
		h.Alarm = nopAlarm{}
	}
	if h.Notifier == nil {
		h.Notifier = nopNotifier{}
	}
	if h.Recorder == nil {
		h.Recorder = nopRecorder{}
	}
	return h
}

// Triggered records a fired group and announces it on the notifier. A
// history write failure is returned but the announcement still happens.
func (h Hooks) Triggered(ctx context.Context, kind Kind, groupID, detail string) error {
	h.Notifier.Publish(events.NewGroupTriggeredEvent(kind.String(), groupID, detail))
	return h.Recorder.RecordTrigger(ctx, Trigger{
		Module:  kind,
		GroupID: groupID,
		Detail:  detail,
		At:      time.Now(),
	})
}
