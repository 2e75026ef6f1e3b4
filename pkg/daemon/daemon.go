// Package daemon supervises background code executions. Each daemon owns a
// dedicated kernel on the gateway, streams its output back to the caller as
// events, and releases the kernel, the channels socket, and any bound
// code-mode session exactly once when it finishes, fails, or is stopped.
package daemon

import (
	"context"
	"time"
)

// MaxDaemonsPerUser caps concurrently running daemons per user. Terminal
// entries do not count against the cap.
const MaxDaemonsPerUser = 3

// DefaultMaxRuntime is the whole-run deadline applied when a start request
// does not carry its own.
const DefaultMaxRuntime = 3600 * time.Second

// Status is the lifecycle state of a daemon. A daemon starts running and
// ends in exactly one terminal state; it never leaves a terminal state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Snapshot is a point-in-time copy of one daemon's registry entry.
type Snapshot struct {
	DaemonID  string  `json:"daemon_id"`
	KernelID  string  `json:"kernel_id"`
	UserID    string  `json:"user_id"`
	ChatID    string  `json:"chat_id"`
	MessageID string  `json:"message_id"`
	StartedAt float64 `json:"started_at"`
	Status    Status  `json:"status"`
}

// StartRequest carries everything needed to launch one daemon.
type StartRequest struct {
	// BaseURL, Token and Password locate and authenticate the kernel
	// gateway. Token wins when both credentials are set.
	BaseURL  string
	Token    string
	Password string

	// Code is the program the kernel executes.
	Code string

	// UserID, ChatID and MessageID are opaque routing keys echoed in every
	// event the daemon emits.
	UserID    string
	ChatID    string
	MessageID string

	// SessionID names the code-mode session to unregister when the daemon
	// finishes. Empty means the daemon has no session.
	SessionID string

	// Sink receives the daemon's events. Nil drops them.
	Sink Sink

	// MaxRuntime overrides the supervisor's default whole-run deadline.
	// Nil means the default; a pointer to zero is an immediate deadline.
	MaxRuntime *time.Duration
}

// Manager is the daemon lifecycle surface the HTTP layer and embedding
// services drive. *Supervisor is the production implementation.
type Manager interface {
	// StartDaemon launches a daemon and returns its id without waiting for
	// the run to finish.
	StartDaemon(ctx context.Context, req StartRequest) (string, error)

	// StopDaemon cancels a daemon and waits for its cleanup. It reports
	// whether the daemon id was known.
	StopDaemon(ctx context.Context, daemonID string) bool

	// GetDaemon returns a snapshot of one daemon.
	GetDaemon(daemonID string) (Snapshot, bool)

	// ListDaemons returns snapshots filtered by user and chat, oldest
	// first. Empty filters match everything.
	ListDaemons(userID, chatID string) []Snapshot

	// CleanupUserDaemons stops every running daemon of one user and
	// returns how many were running when the sweep started.
	CleanupUserDaemons(ctx context.Context, userID string) int

	// StopChatDaemons stops every running daemon of one user in one chat
	// and returns how many were running when the sweep started.
	StopChatDaemons(ctx context.Context, userID, chatID string) int

	// Shutdown stops every running daemon and waits for their cleanup.
	Shutdown(ctx context.Context)
}
