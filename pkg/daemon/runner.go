package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codemodehq/codemode/pkg/kernel"
	"github.com/codemodehq/codemode/pkg/logger"
)

const (
	// receiveTimeout caps how long one frame wait may block. Expiry is not
	// an error; the loop just re-checks the whole-run deadline.
	receiveTimeout = 30 * time.Second

	// frameBuffer sizes the channel between the socket reader and the
	// dispatch loop.
	frameBuffer = 16

	// cleanupTimeout bounds the kernel delete at cleanup.
	cleanupTimeout = 15 * time.Second
)

// runner drives one daemon. It owns the kernel, the channels socket, and
// the session reference, and releases all of them exactly once on every
// exit path.
type runner struct {
	supervisor *Supervisor
	gateway    KernelGateway
	sink       Sink

	daemonID  string
	kernelID  string
	chatID    string
	messageID string
	sessionID string

	code       string
	maxRuntime time.Duration

	conn ChannelConn
	done chan struct{}
}

// run executes the daemon to a terminal status. Cancellation of ctx is the
// stop signal; any other failure is classified as an error. Terminal
// events are emitted before cleanup so subscribers see the outcome while
// the registry entry still exists.
func (r *runner) run(ctx context.Context) {
	defer close(r.done)
	defer r.cleanup()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("Daemon %s panicked: %v", r.daemonID, rec)
			r.supervisor.markTerminal(r.daemonID, StatusError)
			r.emitStatus(StatusError, fmt.Sprintf("runner panic: %v", rec))
		}
	}()

	err := r.execute(ctx)
	switch {
	case err == nil:
		// The dispatch loop already recorded and announced the outcome.
	case ctx.Err() != nil:
		logger.Infof("Daemon %s cancelled", r.daemonID)
		r.supervisor.markTerminal(r.daemonID, StatusStopped)
		r.emitStatus(StatusStopped, "Stopped by user")
	default:
		logger.Errorf("Daemon %s error: %v", r.daemonID, err)
		r.supervisor.markTerminal(r.daemonID, StatusError)
		r.emitStatus(StatusError, err.Error())
	}
}

// execute opens the channels socket, submits the code, and dispatches
// reply frames until the run reaches a terminal state. A nil return means
// a terminal status was already recorded and emitted.
func (r *runner) execute(ctx context.Context) error {
	conn, err := r.gateway.DialChannels(ctx, r.kernelID)
	if err != nil {
		return err
	}
	r.conn = conn

	// The pump turns the blocking socket read into a channel so the
	// dispatch loop can also watch the deadline and cancellation. Closing
	// the socket during cleanup unblocks and ends the pump.
	frames := make(chan []byte, frameBuffer)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			frame, err := conn.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	msgID := kernel.NewExecuteMsgID()
	if err := conn.SendExecuteRequest(msgID, r.code); err != nil {
		return err
	}

	r.emitStatus(StatusRunning, "")

	deadline := time.Now().Add(r.maxRuntime)
	timer := time.NewTimer(receiveTimeout)
	defer timer.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.emitOutput(StreamStderr, fmt.Sprintf(
				"\nBackground script exceeded max runtime (%ds). Stopping.",
				int(r.maxRuntime/time.Second)))
			r.supervisor.markTerminal(r.daemonID, StatusCompleted)
			r.emitStatus(StatusCompleted, "max runtime exceeded")
			return nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(min(remaining, receiveTimeout))

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			// No frame for a while; loop to re-check the deadline.
			continue

		case frame, ok := <-frames:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return ctx.Err()
				}
			}
			finished, err := r.dispatch(frame, msgID)
			if err != nil {
				return err
			}
			if finished {
				return nil
			}
		}
	}
}

// dispatch classifies one frame and reports whether the run reached a
// terminal state. Frames that fail to parse or belong to another
// execution are skipped.
func (r *runner) dispatch(frame []byte, execMsgID string) (bool, error) {
	msg, err := kernel.ParseMessage(frame)
	if err != nil {
		logger.Debugf("Daemon %s skipping malformed frame: %v", r.daemonID, err)
		return false, nil
	}

	r.supervisor.metrics.FrameReceived(msg.MsgType())

	if msg.ParentMsgID() != execMsgID {
		return false, nil
	}

	switch msg.MsgType() {
	case kernel.MsgTypeStream:
		if text := msg.StreamText(); text != "" {
			r.emitOutput(msg.StreamName(), text)
		}

	case kernel.MsgTypeExecuteResult, kernel.MsgTypeDisplayData:
		if text, ok := msg.TextPlain(); ok {
			r.emitOutput(StreamStdout, text)
		}

	case kernel.MsgTypeError:
		r.emitOutput(StreamStderr, strings.Join(msg.Traceback(), "\n"))
		r.supervisor.markTerminal(r.daemonID, StatusError)
		r.emitStatus(StatusError, "Script raised an error")
		return true, nil

	case kernel.MsgTypeStatus:
		if msg.ExecutionState() == kernel.ExecutionStateIdle {
			r.supervisor.markTerminal(r.daemonID, StatusCompleted)
			r.emitStatus(StatusCompleted, "Script finished")
			return true, nil
		}
	}
	return false, nil
}

// cleanup releases everything the daemon owns: the channels socket, the
// kernel, the gateway transport, the bound code-mode session, and finally
// the registry entry. Each step swallows its own error so the others
// always run. The entry is removed last so callers never list a daemon
// whose kernel is already unaccounted for.
func (r *runner) cleanup() {
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			logger.Debugf("Failed to close channels socket for daemon %s: %v", r.daemonID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := r.gateway.DeleteKernel(ctx, r.kernelID); err != nil {
		logger.Warnf("Failed to delete kernel %s: %v", r.kernelID, err)
	}
	r.gateway.Close()

	if r.sessionID != "" && r.supervisor.sessions != nil {
		if sess, ok := r.supervisor.sessions.Get(r.sessionID); ok {
			r.supervisor.sessions.Unregister(r.sessionID)
			sess.Disconnect()
		}
	}

	r.supervisor.remove(r.daemonID)
	logger.Infof("Daemon %s cleaned up", r.daemonID)
}

// emitOutput sends one daemon:output event. Terminal paths run after the
// runner's context is cancelled, so emission deliberately does not depend
// on it.
func (r *runner) emitOutput(stream, content string) {
	emit(context.Background(), r.sink, r.supervisor.metrics, Event{
		Type: EventTypeOutput,
		Data: OutputData{
			DaemonID:  r.daemonID,
			ChatID:    r.chatID,
			MessageID: r.messageID,
			Stream:    stream,
			Content:   content,
			Timestamp: epochSeconds(time.Now()),
		},
	})
}

// emitStatus sends one daemon:status event.
func (r *runner) emitStatus(status Status, reason string) {
	emit(context.Background(), r.sink, r.supervisor.metrics, Event{
		Type: EventTypeStatus,
		Data: StatusData{
			DaemonID:  r.daemonID,
			ChatID:    r.chatID,
			MessageID: r.messageID,
			Status:    status,
			Reason:    reason,
		},
	})
}
