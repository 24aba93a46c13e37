package assistant

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/crm-assistant/internal/model/chat"
	"github.com/zhouzirui/crm-assistant/internal/service/stream"
)

// Opener opens one streaming exchange. *stream.Transport satisfies it.
type Opener interface {
	Open(ctx context.Context, token string, req stream.Request, consume stream.Consumer) (*stream.Handle, error)
}

// Observer receives a snapshot after every state transition, in order.
// It runs with the session locked and must not call back into the session.
type Observer func(chat.Snapshot)

// Session is one assistant conversation: it owns the transcript and moves
// between idle, awaiting, streaming and errored as stream events arrive.
// At most one exchange is in flight at a time.
type Session struct {
	transport    Opener
	creds        stream.Credentials
	probe        StatusChecker
	observers    []Observer
	historyLimit int
	logger       *zap.Logger
	now          func() time.Time

	mu            sync.Mutex
	messages      []chat.Message
	state         chat.State
	err           error
	available     bool
	turn          uint64
	lastCancelled uint64
	handle        *stream.Handle
	abort         context.CancelFunc
	unwatch       func() bool
	opening       chan struct{}
	idle          chan struct{}
}

// SessionOption customises a Session.
type SessionOption func(*Session)

func WithObserver(o Observer) SessionOption {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithStatusProbe sets the checker polled once by Start.
func WithStatusProbe(probe StatusChecker) SessionOption {
	return func(s *Session) {
		s.probe = probe
	}
}

// WithHistoryLimit keeps only the most recent n turns in request history.
// Zero sends the whole transcript.
func WithHistoryLimit(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates an idle session with an empty transcript.
func NewSession(transport Opener, creds stream.Credentials, opts ...SessionOption) *Session {
	idle := make(chan struct{})
	close(idle)

	s := &Session{
		transport: transport,
		creds:     creds,
		logger:    zap.NewNop(),
		now:       time.Now,
		state:     chat.StateIdle,
		idle:      idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.available = s.probe == nil
	return s
}

// Start polls the status probe once and records whether the assistant is
// available. It does not gate Send; callers use Snapshot().Available.
func (s *Session) Start(ctx context.Context) (Status, error) {
	if s.probe == nil {
		return Status{Available: true}, nil
	}

	status, err := s.probe.CheckStatus(ctx)
	if err != nil {
		s.logger.Warn("assistant status check failed", zap.Error(err))
	}

	s.mu.Lock()
	s.available = err == nil && status.Available
	s.notifyLocked()
	s.mu.Unlock()

	return status, err
}

// Send appends text as a user message plus an empty assistant placeholder
// and opens a stream for the reply. It returns once the stream is open; the
// reply keeps arriving in the background (see Wait).
//
// Open failures remove the placeholder, keep the user message, record the
// error and return it. Cancelling ctx at any point before the reply ends has
// the effect of Cancel.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state.InFlight() {
		s.mu.Unlock()
		return ErrBusy
	}

	req := stream.Request{Message: text, History: s.historyLocked()}
	now := s.now().UTC()
	s.messages = append(s.messages,
		chat.Message{ID: uuid.NewString(), Role: chat.RoleUser, Text: text, CreatedAt: now},
		chat.Message{ID: uuid.NewString(), Role: chat.RoleAssistant, CreatedAt: now, Streaming: true},
	)
	s.state = chat.StateAwaiting
	s.err = nil
	s.turn++
	turn := s.turn
	streamCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	s.abort = abort
	s.unwatch = context.AfterFunc(ctx, func() {
		s.cancelTurn(turn)
	})
	opening := make(chan struct{})
	s.opening = opening
	s.idle = make(chan struct{})
	s.notifyLocked()
	s.mu.Unlock()
	defer close(opening)

	handle, err := s.open(streamCtx, turn, req)

	s.mu.Lock()
	if s.lastCancelled == turn {
		s.mu.Unlock()
		abort()
		if handle != nil {
			handle.Cancel()
		}
		return ErrCancelled
	}
	if err != nil {
		s.dropPlaceholderLocked()
		s.err = err
		s.finishLocked(chat.StateIdle)
		s.notifyLocked()
		s.mu.Unlock()
		s.logger.Warn("assistant stream open failed", zap.Error(err))
		return err
	}
	// The reply may already have completed on the read loop.
	if s.turn == turn && s.state.InFlight() {
		s.handle = handle
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) open(ctx context.Context, turn uint64, req stream.Request) (*stream.Handle, error) {
	if s.creds == nil {
		return nil, &stream.AuthError{Err: stream.ErrNoCredential}
	}
	token, err := s.creds.Token(ctx)
	if err != nil {
		return nil, &stream.AuthError{Err: err}
	}
	return s.transport.Open(ctx, token, req, func(ev stream.Event) {
		s.apply(turn, ev)
	})
}

// apply folds one event into the transcript. Events of a cancelled or
// finished exchange are ignored.
func (s *Session) apply(turn uint64, ev stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn != s.turn || !s.state.InFlight() {
		s.logger.Debug("ignoring stale stream event", zap.Stringer("kind", ev.Kind))
		return
	}

	reply := &s.messages[len(s.messages)-1]
	switch ev.Kind {
	case stream.Connected:
		s.state = chat.StateStreaming
	case stream.Delta:
		reply.Text += ev.Text
		s.state = chat.StateStreaming
	case stream.Completed:
		reply.Streaming = false
		s.finishLocked(chat.StateIdle)
	case stream.Failed:
		s.dropPlaceholderLocked()
		s.err = &ProtocolError{Reason: ev.Reason}
		s.finishLocked(chat.StateErrored)
		s.logger.Warn("assistant stream failed", zap.String("reason", ev.Reason))
	}
	s.notifyLocked()
}

// Cancel stops the reply in flight. A placeholder without text is removed,
// partial text is kept and frozen. Cancel returns after the connection is
// released, waiting for a stream that is still being opened if necessary;
// it is a no-op when nothing is in flight.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelLocked()
}

// cancelTurn cancels the exchange only if it is still the current one.
func (s *Session) cancelTurn(turn uint64) {
	s.mu.Lock()
	if s.turn != turn {
		s.mu.Unlock()
		return
	}
	s.logger.Debug("send context done, cancelling reply")
	s.cancelLocked()
}

// cancelLocked is entered with the lock held and returns with it released.
func (s *Session) cancelLocked() {
	if !s.state.InFlight() {
		s.mu.Unlock()
		return
	}

	handle, opening := s.handle, s.opening
	reply := &s.messages[len(s.messages)-1]
	if reply.Text == "" {
		s.dropPlaceholderLocked()
	} else {
		reply.Streaming = false
	}
	s.lastCancelled = s.turn
	s.turn++
	s.finishLocked(chat.StateIdle)
	s.notifyLocked()
	s.mu.Unlock()

	if handle != nil {
		handle.Cancel()
		return
	}
	// Send still owns the stream; it releases it before closing opening.
	if opening != nil {
		<-opening
	}
}

// Clear empties the transcript and the recorded error.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.InFlight() {
		return ErrBusy
	}
	s.messages = nil
	s.err = nil
	s.state = chat.StateIdle
	s.notifyLocked()
	return nil
}

// Wait blocks until no exchange is in flight.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the transcript, state and error.
func (s *Session) Snapshot() chat.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Err returns the error of the last failed exchange, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// History renders the transcript as request history.
func (s *Session) History() []chat.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Session) historyLocked() []chat.Turn {
	turns := make([]chat.Turn, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.Streaming || msg.Text == "" {
			continue
		}
		turns = append(turns, chat.Turn{Role: msg.Role, Content: msg.Text})
	}
	if s.historyLimit > 0 && len(turns) > s.historyLimit {
		turns = turns[len(turns)-s.historyLimit:]
	}
	return turns
}

func (s *Session) snapshotLocked() chat.Snapshot {
	snap := chat.Snapshot{
		Messages:  append([]chat.Message(nil), s.messages...),
		State:     s.state,
		Available: s.available,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func (s *Session) notifyLocked() {
	if len(s.observers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, o := range s.observers {
		o(snap)
	}
}

func (s *Session) dropPlaceholderLocked() {
	n := len(s.messages)
	if n == 0 {
		return
	}
	if last := s.messages[n-1]; last.Role == chat.RoleAssistant && last.Streaming {
		s.messages = s.messages[:n-1]
	}
}

// finishLocked ends the current exchange.
func (s *Session) finishLocked(state chat.State) {
	s.state = state
	s.handle = nil
	if s.abort != nil {
		s.abort()
		s.abort = nil
	}
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	close(s.idle)
}
