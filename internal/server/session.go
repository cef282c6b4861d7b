package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/postwire/postwire/internal/engine"
	"github.com/postwire/postwire/internal/logging"
	"github.com/postwire/postwire/internal/metrics"
	"github.com/postwire/postwire/internal/protocol"
	"github.com/postwire/postwire/internal/registry"
	"github.com/postwire/postwire/internal/storage"
	"github.com/postwire/postwire/internal/validation"
)

// outgoingQueueSize bounds the per-session write queue. A peer that
// stops reading loses pushes past this depth rather than stalling the
// sender.
const outgoingQueueSize = 256

// maxLineSize caps one inbound frame.
const maxLineSize = 1 << 20

// Session owns one client connection: a blocking read loop decoding
// and dispatching one frame per line, and a write loop draining the
// outbound queue. Login state is session-local and guarded, since
// broadcasts and live pushes read it from other goroutines.
type Session struct {
	id     int64
	conn   net.Conn
	server *Server
	logger *logging.Logger
	ctx    context.Context

	outgoing chan string

	mu          sync.Mutex
	loggedEmail string

	closeOnce sync.Once
	writeDone chan struct{}
}

func newSession(id int64, conn net.Conn, srv *Server, logger *logging.Logger) *Session {
	ctx := logging.WithSessionID(context.Background(), id)
	ctx = logging.WithRemoteAddr(ctx, conn.RemoteAddr().String())
	return &Session{
		id:        id,
		conn:      conn,
		server:    srv,
		logger:    logger,
		ctx:       ctx,
		outgoing:  make(chan string, outgoingQueueSize),
		writeDone: make(chan struct{}),
	}
}

// ID returns the session's server-assigned identifier.
func (s *Session) ID() int64 { return s.id }

// RemoteAddr returns the peer's address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Account returns the logged-in identity, or "" while anonymous.
func (s *Session) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedEmail
}

// run drives the session to completion: the write loop in its own
// goroutine, the read loop here. When the read loop ends the session is
// shut down and removed from the server registry exactly once.
func (s *Session) run() {
	go s.writeLoop()

	s.readLoop()

	s.shutdown()
	<-s.writeDone

	if email := s.Account(); email != "" {
		metrics.LoggedInSessions.Dec()
	}
	s.server.removeSession(s.id)
	s.logger.InfoContext(s.ctx, "session closed")
}

// shutdown closes the socket and unblocks the write loop via the empty
// sentinel. Safe to call from any goroutine, any number of times.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.conn.Close()
		select {
		case s.outgoing <- "":
		default:
			// Queue full: the closed socket fails the next write anyway.
		}
	})
}

// send encodes and enqueues one outbound envelope. A full queue drops
// the frame; the mailbox remains the durable record for mail, and chat
// makes no delivery promise.
func (s *Session) send(msg protocol.Message) bool {
	line, err := protocol.Encode(msg)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "encode failed", err, "type", string(msg.Type))
		return false
	}
	select {
	case s.outgoing <- line:
		return true
	default:
		s.logger.WarnContext(s.ctx, "outbound queue full, frame dropped", "type", string(msg.Type))
		metrics.RecordError("session", "queue_full")
		return false
	}
}

// writeLoop drains the outbound queue, one line per frame, until it
// receives the empty sentinel or the socket fails.
func (s *Session) writeLoop() {
	defer close(s.writeDone)

	w := bufio.NewWriter(s.conn)
	for line := range s.outgoing {
		if line == "" {
			return
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			s.logger.DebugContext(s.ctx, "write failed", "error", err.Error())
			s.shutdown()
			return
		}
		if err := w.Flush(); err != nil {
			s.logger.DebugContext(s.ctx, "flush failed", "error", err.Error())
			s.shutdown()
			return
		}
	}
}

// readLoop decodes and dispatches one frame per line until EOF or a
// socket error. Malformed lines are logged and skipped; they carry no
// responseTo to answer, so the peer gets nothing back and the
// connection stays open.
func (s *Session) readLoop() {
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			s.logger.WarnContext(s.ctx, "protocol violation", "error", err.Error())
			metrics.ProtocolViolations.Inc()
			continue
		}
		s.handle(msg)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.DebugContext(s.ctx, "read loop ended", "error", err.Error())
	}
}

// handle dispatches one decoded request through the session state
// machine. Every arm except inbound RESPONSE/ERROR answers with exactly
// one RESPONSE or ERROR frame.
func (s *Session) handle(msg protocol.Message) {
	metrics.RecordRequest(string(msg.Type))

	switch msg.Type {
	case protocol.TypeLogin:
		s.handleLogin(msg.Data.(protocol.LoginData))
	case protocol.TypeLogout:
		s.handleLogout()
	case protocol.TypeRegister:
		s.handleRegister(msg.Data.(protocol.RegisterData))
	case protocol.TypeChat:
		s.handleChat(msg.Data.(protocol.ChatData))
	case protocol.TypeSendMail:
		s.handleSendMail(msg.Data.(protocol.Mail))
	case protocol.TypeGetInbox:
		s.handleGetInbox()
	case protocol.TypeForward:
		s.handleForward(msg.Data.(protocol.ForwardData))
	case protocol.TypeResponse, protocol.TypeError:
		// Clients are not expected to send these; log and move on.
		status := msg.Data.(protocol.StatusData)
		s.logger.InfoContext(s.ctx, "status frame from client",
			"type", string(msg.Type),
			"responseTo", string(status.ResponseTo),
			"message", status.Message)
	default:
		s.reply(protocol.Error(msg.Type, "unrecognized request"))
	}
}

// reply sends one RESPONSE or ERROR frame and records its outcome.
func (s *Session) reply(msg protocol.Message) {
	status := msg.Data.(protocol.StatusData)
	metrics.RecordResponse(string(status.ResponseTo), msg.Type == protocol.TypeResponse)
	s.send(msg)
}

func (s *Session) handleLogin(data protocol.LoginData) {
	// A logged-in session is refused before the payload is even looked
	// at; validation applies only to the anonymous row.
	s.mu.Lock()
	if s.loggedEmail != "" {
		s.mu.Unlock()
		s.reply(protocol.Error(protocol.TypeLogin, "already logged in"))
		return
	}
	s.mu.Unlock()

	if err := validation.Email(data.Email); err != nil {
		s.reply(protocol.Error(protocol.TypeLogin, "invalid email"))
		return
	}
	if !s.server.registry.IsRegistered(data.Email) {
		s.reply(protocol.Error(protocol.TypeLogin, "not registered"))
		return
	}

	// Login state is only written here, on the read loop; the early
	// check above still holds.
	s.mu.Lock()
	s.loggedEmail = data.Email
	s.mu.Unlock()

	metrics.LoggedInSessions.Inc()
	s.logger.InfoContext(logging.WithAccount(s.ctx, data.Email), "login")
	s.reply(protocol.Response(protocol.TypeLogin, "ok"))

	s.pushInbox(data.Email)
}

// pushInbox streams the account's stored mail to the session, one
// SEND_MAIL frame per entry, in stored order.
func (s *Session) pushInbox(email string) {
	mails, err := s.server.engine.Inbox(s.ctx, email)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "inbox read failed", err)
		return
	}
	for _, mail := range mails {
		s.send(protocol.Message{Type: protocol.TypeSendMail, Data: mail})
	}
}

func (s *Session) handleLogout() {
	s.mu.Lock()
	wasLogged := s.loggedEmail != ""
	s.loggedEmail = ""
	s.mu.Unlock()

	if !wasLogged {
		s.reply(protocol.Error(protocol.TypeLogout, "already logged out"))
		return
	}
	metrics.LoggedInSessions.Dec()
	s.logger.InfoContext(s.ctx, "logout")
	s.reply(protocol.Response(protocol.TypeLogout, "ok"))
}

func (s *Session) handleRegister(data protocol.RegisterData) {
	if err := validation.Email(data.Email); err != nil {
		s.reply(protocol.Error(protocol.TypeRegister, "invalid email"))
		return
	}

	err := s.server.registry.Register(s.ctx, data.Email)
	switch {
	case errors.Is(err, registry.ErrAlreadyRegistered):
		s.reply(protocol.Error(protocol.TypeRegister, "already registered"))
	case err != nil:
		s.logger.ErrorContext(s.ctx, "registration failed", err, "account", data.Email)
		metrics.RecordError("session", "io")
		s.reply(protocol.Error(protocol.TypeRegister, "registration failed"))
	default:
		metrics.RegisteredAccounts.Inc()
		s.reply(protocol.Response(protocol.TypeRegister, "ok"))
	}
}

func (s *Session) handleChat(data protocol.ChatData) {
	s.logger.InfoContext(s.ctx, "chat", "message", data.Message)
	reached := s.server.Broadcast(protocol.Message{Type: protocol.TypeChat, Data: data}, s.id)
	metrics.BroadcastFanout.Observe(float64(reached))
	s.reply(protocol.Response(protocol.TypeChat, "ok"))
}

func (s *Session) handleSendMail(mail protocol.Mail) {
	email := s.Account()
	if email == "" {
		s.reply(protocol.Error(protocol.TypeSendMail, "not logged in"))
		return
	}

	// The session's identity is the sender, whatever the client wrote.
	mail.SenderEmail = email

	for _, receiver := range mail.Receivers {
		if err := validation.Email(receiver); err != nil {
			s.reply(protocol.Error(protocol.TypeSendMail, "invalid receiver"))
			return
		}
	}

	if err := s.server.engine.Deliver(s.ctx, mail); err != nil {
		s.reply(protocol.Error(protocol.TypeSendMail, "delivery failed"))
		return
	}
	s.reply(protocol.Response(protocol.TypeSendMail, "ok"))
}

func (s *Session) handleGetInbox() {
	email := s.Account()
	if email == "" {
		s.reply(protocol.Error(protocol.TypeGetInbox, "not logged in"))
		return
	}

	s.pushInbox(email)
	s.reply(protocol.Response(protocol.TypeGetInbox, "ok"))
}

func (s *Session) handleForward(req protocol.ForwardData) {
	email := s.Account()
	if email == "" {
		s.reply(protocol.Error(protocol.TypeForward, "not logged in"))
		return
	}

	err := s.server.engine.Forward(s.ctx, req, email)
	switch {
	case errors.Is(err, engine.ErrMailNotFound):
		s.reply(protocol.Error(protocol.TypeForward, "mail not found"))
	case errors.Is(err, engine.ErrInvalidRecipient):
		s.reply(protocol.Error(protocol.TypeForward, "invalid recipient"))
	case errors.Is(err, storage.ErrInboxNotFound):
		s.reply(protocol.Error(protocol.TypeForward, "inbox not found"))
	case err != nil:
		s.logger.ErrorContext(s.ctx, "forward failed", err)
		metrics.RecordError("session", "io")
		s.reply(protocol.Error(protocol.TypeForward, "forward failed"))
	default:
		s.reply(protocol.Response(protocol.TypeForward, "ok"))
	}
}
