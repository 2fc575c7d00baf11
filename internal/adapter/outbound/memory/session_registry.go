// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/echogate/internal/domain/session"
)

// DefaultCleanupInterval is how often the idle reaper scans the registry.
const DefaultCleanupInterval = 1 * time.Minute

// SessionRegistry implements session.Registry with an in-memory map.
// Thread-safe for concurrent access.
//
// Channels are always closed outside the lock: a channel's close hook
// calls back into Remove.
type SessionRegistry struct {
	sessions        map[string]*session.Session
	mu              sync.Mutex
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger
	onEvict         func(reason string)
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
}

// NewSessionRegistry creates a registry with no idle timeout.
func NewSessionRegistry(logger *slog.Logger) *SessionRegistry {
	return NewSessionRegistryWithConfig(0, DefaultCleanupInterval, logger)
}

// NewSessionRegistryWithConfig creates a registry whose reaper, once started,
// closes sessions idle for longer than idleTimeout. A zero idleTimeout
// disables reaping.
func NewSessionRegistryWithConfig(idleTimeout, cleanupInterval time.Duration, logger *slog.Logger) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &SessionRegistry{
		sessions:        make(map[string]*session.Session),
		idleTimeout:     idleTimeout,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		stopChan:        make(chan struct{}),
	}
}

// SetEvictionHook registers fn to be called once per session the registry
// closes itself, with reason "idle" or "shutdown". Call before StartCleanup.
func (r *SessionRegistry) SetEvictionHook(fn func(reason string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// Lookup returns the session registered under id.
func (r *SessionRegistry) Lookup(id string) (*session.Session, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Insert registers sess, failing with session.ErrSessionExists on a taken id.
func (r *SessionRegistry) Insert(sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.ID]; exists {
		return session.ErrSessionExists
	}
	r.sessions[sess.ID] = sess
	return nil
}

// Remove unregisters id. No-op when absent.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Touch records activity on id.
func (r *SessionRegistry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.LastAccess = time.Now().UTC()
	}
}

// Count returns the number of registered sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll unregisters every session, then closes each channel.
// Close errors are logged and otherwise ignored.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	detached := make([]*session.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		detached = append(detached, sess)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	r.closeSessions(detached, "shutdown")
	if len(detached) > 0 {
		r.logger.Info("closed all sessions", "count", len(detached))
	}
}

// StartCleanup starts the idle reaper. It does nothing when no idle timeout
// is configured. The goroutine stops when ctx is cancelled or Stop() is called.
func (r *SessionRegistry) StartCleanup(ctx context.Context) {
	if r.idleTimeout <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup detaches idle sessions and closes their channels.
func (r *SessionRegistry) cleanup() {
	now := time.Now().UTC()

	r.mu.Lock()
	var idle []*session.Session
	for id, sess := range r.sessions {
		if sess.IsIdle(now, r.idleTimeout) {
			idle = append(idle, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	r.closeSessions(idle, "idle")
	if len(idle) > 0 {
		r.logger.Debug("closed idle sessions", "count", len(idle))
	}
}

func (r *SessionRegistry) closeSessions(sessions []*session.Session, reason string) {
	r.mu.Lock()
	onEvict := r.onEvict
	r.mu.Unlock()

	for _, sess := range sessions {
		if onEvict != nil {
			onEvict(reason)
		}
		if sess.Channel == nil {
			continue
		}
		if err := sess.Channel.Close(); err != nil {
			r.logger.Warn("failed to close session channel",
				"session_id", sess.ID,
				"reason", reason,
				"error", err)
		}
	}
}

// Stop stops the idle reaper and waits for it to exit.
// Safe to call multiple times.
func (r *SessionRegistry) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Compile-time interface verification.
var _ session.Registry = (*SessionRegistry)(nil)
