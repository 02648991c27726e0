// Package audit records state-changing actions for back-office review.
package audit

import (
	"context"
	"time"
)

// Entry is one audited action.
type Entry struct {
	Action   string
	Entity   string
	EntityID string
	// Params is a flat snapshot of the inputs relevant to the action.
	Params    map[string]string
	CreatedAt time.Time
}

// Recorder stores audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Entry) error

func (f RecorderFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// Nop discards entries.
var Nop Recorder = RecorderFunc(func(context.Context, Entry) error { return nil })
