package daemon

import (
	"context"
	"time"

	"github.com/codemodehq/codemode/pkg/logger"
	"github.com/codemodehq/codemode/pkg/telemetry"
)

// Event envelope types.
const (
	EventTypeOutput = "daemon:output"
	EventTypeStatus = "daemon:status"
)

// Output stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Event is one envelope handed to a sink. Data is an OutputData or
// StatusData payload matching Type.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// OutputData is the payload of a daemon:output event. Timestamp is
// fractional seconds since the Unix epoch.
type OutputData struct {
	DaemonID  string  `json:"daemon_id"`
	ChatID    string  `json:"chat_id"`
	MessageID string  `json:"message_id"`
	Stream    string  `json:"stream"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// StatusData is the payload of a daemon:status event. Reason is empty for
// the initial running announcement.
type StatusData struct {
	DaemonID  string `json:"daemon_id"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Status    Status `json:"status"`
	Reason    string `json:"reason"`
}

// Sink receives daemon events. Implementations must tolerate concurrent
// emissions from independent daemons; within one daemon events arrive in
// order, one at a time.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// emit hands an event to a sink. A nil sink drops the event; a failing
// sink is logged and never propagates, so delivery trouble cannot change
// a run's outcome.
func emit(ctx context.Context, sink Sink, metrics *telemetry.Metrics, event Event) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, event); err != nil {
		logger.Debugf("Failed to deliver %s event: %v", event.Type, err)
		return
	}
	metrics.EventEmitted(event.Type)
}

// epochSeconds converts a time to the fractional epoch seconds carried in
// event payloads.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
