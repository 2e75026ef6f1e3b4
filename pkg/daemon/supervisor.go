package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codemodehq/codemode/pkg/errors"
	"github.com/codemodehq/codemode/pkg/logger"
	"github.com/codemodehq/codemode/pkg/session"
	"github.com/codemodehq/codemode/pkg/telemetry"
)

// Config configures a Supervisor.
type Config struct {
	// Sessions is consulted when a daemon unbinds its code-mode session at
	// cleanup. Nil disables session cleanup.
	Sessions *session.Registry

	// Metrics receives lifecycle counters. Nil disables them.
	Metrics *telemetry.Metrics

	// MaxPerUser caps concurrently running daemons per user. Zero or
	// negative means MaxDaemonsPerUser.
	MaxPerUser int

	// DefaultMaxRuntime is the whole-run deadline for start requests that
	// do not carry one. Zero or negative means DefaultMaxRuntime.
	DefaultMaxRuntime time.Duration

	// GatewayFactory builds the kernel gateway client each daemon owns.
	// Nil means the production pkg/kernel client.
	GatewayFactory GatewayFactory
}

// info is one registry entry. The supervisor's mutex guards status and
// kernelID; the remaining fields are immutable once the entry is
// published. done closes after cleanup finishes, on every exit path.
type info struct {
	daemonID  string
	kernelID  string
	userID    string
	chatID    string
	messageID string
	startedAt time.Time
	status    Status

	cancel context.CancelFunc
	done   chan struct{}
}

func (i *info) snapshot() Snapshot {
	return Snapshot{
		DaemonID:  i.daemonID,
		KernelID:  i.kernelID,
		UserID:    i.userID,
		ChatID:    i.chatID,
		MessageID: i.messageID,
		StartedAt: epochSeconds(i.startedAt),
		Status:    i.status,
	}
}

// Supervisor tracks every live daemon, enforces the per-user cap, and is
// the sole writer of daemon status.
type Supervisor struct {
	mu      sync.Mutex
	daemons map[string]*info

	gateway           GatewayFactory
	sessions          *session.Registry
	metrics           *telemetry.Metrics
	maxPerUser        int
	defaultMaxRuntime time.Duration
}

var _ Manager = (*Supervisor)(nil)

// NewSupervisor creates a supervisor with no daemons.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = MaxDaemonsPerUser
	}
	if cfg.DefaultMaxRuntime <= 0 {
		cfg.DefaultMaxRuntime = DefaultMaxRuntime
	}
	if cfg.GatewayFactory == nil {
		cfg.GatewayFactory = newKernelGateway
	}
	return &Supervisor{
		daemons:           map[string]*info{},
		gateway:           cfg.GatewayFactory,
		sessions:          cfg.Sessions,
		metrics:           cfg.Metrics,
		maxPerUser:        cfg.MaxPerUser,
		defaultMaxRuntime: cfg.DefaultMaxRuntime,
	}
}

// StartDaemon reserves a slot under the per-user cap, creates a kernel,
// and spawns the runner. It returns as soon as the runner is scheduled;
// the run itself is detached from ctx and lives until it reaches a
// terminal state or is stopped.
func (s *Supervisor) StartDaemon(ctx context.Context, req StartRequest) (string, error) {
	daemonID := uuid.NewString()

	runCtx, cancel := context.WithCancel(context.Background())
	entry := &info{
		daemonID:  daemonID,
		userID:    req.UserID,
		chatID:    req.ChatID,
		messageID: req.MessageID,
		startedAt: time.Now(),
		status:    StatusRunning,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	// Counting and reserving are one critical section so concurrent starts
	// cannot overshoot the cap. The entry is published before the kernel
	// exists; a stop that races the startup simply cancels runCtx.
	s.mu.Lock()
	if s.runningLocked(req.UserID) >= s.maxPerUser {
		s.mu.Unlock()
		cancel()
		return "", errors.NewQuotaExceededError(fmt.Sprintf(
			"Maximum concurrent background scripts (%d) reached. Stop an existing one before starting another.",
			s.maxPerUser), nil)
	}
	s.daemons[daemonID] = entry
	s.mu.Unlock()

	gateway, err := s.gateway(req.BaseURL, req.Token, req.Password)
	if err != nil {
		s.releaseSlot(entry)
		return "", err
	}

	kernelID, err := gateway.CreateKernel(ctx)
	if err != nil {
		gateway.Close()
		s.releaseSlot(entry)
		return "", err
	}

	s.mu.Lock()
	entry.kernelID = kernelID
	s.mu.Unlock()

	maxRuntime := s.defaultMaxRuntime
	if req.MaxRuntime != nil {
		maxRuntime = *req.MaxRuntime
	}

	r := &runner{
		supervisor: s,
		gateway:    gateway,
		sink:       req.Sink,
		daemonID:   daemonID,
		kernelID:   kernelID,
		chatID:     req.ChatID,
		messageID:  req.MessageID,
		sessionID:  req.SessionID,
		code:       req.Code,
		maxRuntime: maxRuntime,
		done:       entry.done,
	}

	s.metrics.DaemonStarted()
	go r.run(runCtx)

	logger.Infof("Started daemon %s for user %s (kernel %s)", daemonID, req.UserID, kernelID)
	return daemonID, nil
}

// runningLocked counts one user's running daemons. Callers hold the lock.
func (s *Supervisor) runningLocked(userID string) int {
	count := 0
	for _, entry := range s.daemons {
		if entry.userID == userID && entry.status == StatusRunning {
			count++
		}
	}
	return count
}

// releaseSlot discards a reserved entry after a failed start, waking any
// stop call that raced the startup. No runner exists yet, so the slot is
// torn down here rather than through cleanup.
func (s *Supervisor) releaseSlot(entry *info) {
	s.mu.Lock()
	delete(s.daemons, entry.daemonID)
	s.mu.Unlock()
	entry.cancel()
	close(entry.done)
}

// StopDaemon cancels a running daemon and waits for its cleanup. Unknown
// ids report false. Entries that already left running report true with no
// further effect, so stopping twice is safe.
func (s *Supervisor) StopDaemon(ctx context.Context, daemonID string) bool {
	s.mu.Lock()
	entry, ok := s.daemons[daemonID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if entry.status != StatusRunning {
		s.mu.Unlock()
		return true
	}
	entry.status = StatusStopped
	s.mu.Unlock()

	entry.cancel()
	select {
	case <-entry.done:
	case <-ctx.Done():
		logger.Warnf("Gave up waiting for daemon %s cleanup: %v", daemonID, ctx.Err())
	}
	return true
}

// markTerminal transitions a daemon from running to a terminal status.
// Entries that already left running keep their first terminal status.
func (s *Supervisor) markTerminal(daemonID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.daemons[daemonID]
	if !ok || entry.status != StatusRunning {
		return
	}
	entry.status = status
}

// remove drops a finished daemon from the registry. The runner calls this
// last in cleanup, so an entry disappears only after its kernel and
// session are gone.
func (s *Supervisor) remove(daemonID string) {
	s.mu.Lock()
	entry, ok := s.daemons[daemonID]
	delete(s.daemons, daemonID)
	s.mu.Unlock()
	if ok {
		s.metrics.DaemonFinished(string(entry.status))
	}
}

// GetDaemon returns a snapshot of one daemon.
func (s *Supervisor) GetDaemon(daemonID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.daemons[daemonID]
	if !ok {
		return Snapshot{}, false
	}
	return entry.snapshot(), true
}

// ListDaemons returns snapshots filtered by user and chat, oldest first.
// Empty filters match everything; both filters must match when set.
func (s *Supervisor) ListDaemons(userID, chatID string) []Snapshot {
	s.mu.Lock()
	snapshots := make([]Snapshot, 0, len(s.daemons))
	for _, entry := range s.daemons {
		if userID != "" && entry.userID != userID {
			continue
		}
		if chatID != "" && entry.chatID != chatID {
			continue
		}
		snapshots = append(snapshots, entry.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].StartedAt != snapshots[j].StartedAt {
			return snapshots[i].StartedAt < snapshots[j].StartedAt
		}
		return snapshots[i].DaemonID < snapshots[j].DaemonID
	})
	return snapshots
}

// CleanupUserDaemons stops every running daemon of one user, typically
// when the user's session with the embedding service ends. It returns the
// number of daemons that were running when the sweep started.
func (s *Supervisor) CleanupUserDaemons(ctx context.Context, userID string) int {
	count := s.stopMatching(ctx, func(entry *info) bool {
		return entry.userID == userID
	})
	if count > 0 {
		logger.Infof("Cleaned up %d daemons for user %s", count, userID)
	}
	return count
}

// StopChatDaemons stops every running daemon of one user in one chat.
func (s *Supervisor) StopChatDaemons(ctx context.Context, userID, chatID string) int {
	return s.stopMatching(ctx, func(entry *info) bool {
		return entry.userID == userID && entry.chatID == chatID
	})
}

// Shutdown stops every running daemon and waits for their cleanup.
func (s *Supervisor) Shutdown(ctx context.Context) {
	count := s.stopMatching(ctx, func(*info) bool { return true })
	if count > 0 {
		logger.Infof("Stopped %d daemons at shutdown", count)
	}
}

// stopMatching cancels every running daemon the filter selects, one
// goroutine per daemon, and waits for all of them. The count reflects the
// registry at sweep start; daemons finishing concurrently still count.
func (s *Supervisor) stopMatching(ctx context.Context, match func(*info) bool) int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.daemons))
	for id, entry := range s.daemons {
		if entry.status == StatusRunning && match(entry) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	group := &errgroup.Group{}
	for _, id := range ids {
		group.Go(func() error {
			s.StopDaemon(ctx, id)
			return nil
		})
	}
	_ = group.Wait()
	return len(ids)
}
