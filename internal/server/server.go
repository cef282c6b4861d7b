// Package server implements the client-facing TCP listener and the
// live session registry. It owns the accept loop, broadcast and
// targeted-send primitives, and per-connection sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/postwire/postwire/internal/engine"
	"github.com/postwire/postwire/internal/logging"
	"github.com/postwire/postwire/internal/metrics"
	"github.com/postwire/postwire/internal/protocol"
	"github.com/postwire/postwire/internal/registry"
	"github.com/postwire/postwire/internal/validation"
)

// SessionInfo is the operator-facing view of one live session.
type SessionInfo struct {
	ID         int64  `json:"id"`
	RemoteAddr string `json:"remoteAddr"`
	Account    string `json:"account,omitempty"`
}

// Server accepts client connections and tracks live sessions. Session
// membership is mutated only under the server mutex; broadcast and
// targeted sends read a snapshot taken under the same lock.
type Server struct {
	addr          string
	registry      *registry.Registry
	engine        *engine.Engine
	logger        *logging.Logger
	sessionLogger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[int64]*Session
	nextID   int64
	running  bool

	wg sync.WaitGroup
}

// New creates a server listening on addr once started.
func New(addr string, reg *registry.Registry, eng *engine.Engine, logger *logging.Logger) *Server {
	return &Server{
		addr:          addr,
		registry:      reg,
		engine:        eng,
		logger:        logger.Server(),
		sessionLogger: logger.Session(),
		sessions:      make(map[int64]*Session),
	}
}

// Start binds the listener and launches the accept loop. A bind
// failure is fatal to startup and returned to the caller. Starting an
// already running server is a no-op reported as a warning.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("start ignored, already listening", "addr", s.addr)
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Running reports whether the listener is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop closes the listener, shuts down every live session and waits
// for them up to the context deadline. Stopping an already stopped
// server is a no-op reported as a warning, not an error.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn("stop ignored, not listening")
		return nil
	}
	s.running = false
	ln := s.listener
	s.listener = nil
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	ln.Close()
	for _, sess := range live {
		sess.shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("stop timed out waiting for sessions", "remaining", len(s.Sessions()))
		return ctx.Err()
	}
}

// acceptLoop blocks on the listener, wrapping each connection in a
// session. It exits when the listener is closed by Stop.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.WithError(err).Warn("accept failed")
			continue
		}

		sess := s.addSession(conn)
		if sess == nil {
			// Lost the race with Stop.
			conn.Close()
			continue
		}

		metrics.TotalConnections.Inc()
		metrics.ActiveSessions.Inc()
		s.logger.Info("connection accepted",
			"session_id", sess.id,
			"remote_addr", conn.RemoteAddr().String())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()
	}
}

func (s *Server) addSession(conn net.Conn) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.nextID++
	sess := newSession(s.nextID, conn, s, s.sessionLogger)
	s.sessions[sess.id] = sess
	return sess
}

// removeSession drops the session from the registry. Sessions call it
// exactly once, at the end of run.
func (s *Server) removeSession(id int64) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		metrics.ActiveSessions.Dec()
	}
}

// snapshot returns the live sessions under a consistent view of
// membership.
func (s *Server) snapshot() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Broadcast sends the envelope to every live session except the one
// identified by exceptID (0 excludes nobody). It returns the number of
// sessions the frame was queued for.
func (s *Server) Broadcast(msg protocol.Message, exceptID int64) int {
	sent := 0
	for _, sess := range s.snapshot() {
		if sess.id == exceptID {
			continue
		}
		if sess.send(msg) {
			sent++
		}
	}
	return sent
}

// NotifyAccounts sends the envelope to every live session logged in as
// one of the given accounts, compared case-insensitively. It returns
// the number of sessions reached.
func (s *Server) NotifyAccounts(msg protocol.Message, emails []string) int {
	targets := make(map[string]bool, len(emails))
	for _, e := range emails {
		targets[validation.NormalizeEmail(e)] = true
	}

	sent := 0
	for _, sess := range s.snapshot() {
		email := sess.Account()
		if email == "" || !targets[validation.NormalizeEmail(email)] {
			continue
		}
		if sess.send(msg) {
			sent++
		}
	}
	return sent
}

// Disconnect shuts down the identified session. It reports whether the
// session was live.
func (s *Server) Disconnect(id int64) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.logger.Info("session disconnected by operator", "session_id", id)
	sess.shutdown()
	return true
}

// Sessions returns the operator view of every live session.
func (s *Server) Sessions() []SessionInfo {
	live := s.snapshot()
	out := make([]SessionInfo, 0, len(live))
	for _, sess := range live {
		out = append(out, SessionInfo{
			ID:         sess.id,
			RemoteAddr: sess.RemoteAddr(),
			Account:    sess.Account(),
		})
	}
	return out
}
