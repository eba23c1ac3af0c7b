// Package session runs one voice call.
//
// A Session owns the call's transport, microphone capture and playback,
// and arbitrates between them with a turn-taking Machine. All state lives
// on a single event-loop goroutine; transport frames, playback
// completions, timers and user commands reach it as channel messages.
//
// Example usage:
//
//	sess, _ := session.New(channel, capturer, player)
//	if err := sess.Start(ctx); err != nil {
//	    log.Warn("initial connect failed, retrying", "error", err)
//	}
//	defer sess.Close()
//
//	go func() {
//	    for u := range sess.Updates() {
//	        render(u)
//	    }
//	}()
//
//	sess.Talk() // start listening
//	sess.Talk() // stop and send
//	<-sess.Ended()
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-aira/pkg/capture"
	"github.com/teslashibe/go-aira/pkg/playback"
	"github.com/teslashibe/go-aira/pkg/protocol"
	"github.com/teslashibe/go-aira/pkg/transport"
)

// ErrNothingRecorded is returned when stop-and-send captured no audio.
var ErrNothingRecorded = errors.New("session: nothing recorded")

// Transport is the voice socket. *transport.Channel satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Send(frame protocol.Frame) error
	Events() <-chan transport.Event
	Close() error
}

// Capturer records one utterance at a time. *capture.Controller
// satisfies it.
type Capturer interface {
	Start(ctx context.Context) error
	Stop() (*capture.Blob, error)
}

// Player plays replies. *playback.Controller satisfies it.
type Player interface {
	PlayBytes(audio []byte, fallbackText string) uint64
	Speak(text string) uint64
	Stop()
	Events() <-chan playback.Event
	Close() error
}

// Role identifies who said a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one line of the conversation.
type Entry struct {
	Role Role
	Text string
	At   time.Time
}

// UpdateKind identifies what an Update reports.
type UpdateKind int

const (
	// UpdateState reports a turn state change.
	UpdateState UpdateKind = iota
	// UpdateStatus reports a transport status change.
	UpdateStatus
	// UpdateTranscript carries the recognized user text.
	UpdateTranscript
	// UpdateResponse carries the assistant's reply text.
	UpdateResponse
	// UpdateError carries a transient error message.
	UpdateError
	// UpdateErrorCleared reports that the error message expired.
	UpdateErrorCleared
	// UpdateAlert carries an error that needs user action: microphone
	// access denied or reconnection exhausted.
	UpdateAlert
	// UpdateEnding reports the backend's end frame.
	UpdateEnding
	// UpdateEnded is sent when the end grace delay has passed.
	UpdateEnded
)

// String returns the update kind name.
func (k UpdateKind) String() string {
	switch k {
	case UpdateState:
		return "state"
	case UpdateStatus:
		return "status"
	case UpdateTranscript:
		return "transcript"
	case UpdateResponse:
		return "response"
	case UpdateError:
		return "error"
	case UpdateErrorCleared:
		return "error_cleared"
	case UpdateAlert:
		return "alert"
	case UpdateEnding:
		return "ending"
	case UpdateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Update is delivered on Session.Updates.
type Update struct {
	Kind UpdateKind

	// State is the turn state after the update.
	State TurnState

	// Status, Attempt and Delay are set for UpdateStatus.
	Status  transport.Status
	Attempt int
	Delay   time.Duration

	// Text is the transcript, reply or error message.
	Text string

	// Err is set for UpdateAlert and failed status changes.
	Err error
}

type commandKind int

const (
	cmdTalk commandKind = iota
	cmdClose
)

type command struct {
	kind  commandKind
	reply chan error
}

// Session is one voice call.
type Session struct {
	id        string
	cfg       *Config
	logger    *slog.Logger
	clock     clockwork.Clock
	transport Transport
	capture   Capturer
	player    Player

	updates chan Update
	ended   chan struct{}
	done    chan struct{}
	cmds    chan command

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the loop goroutine.
	machine      *Machine
	lastState    TurnState
	playingID    uint64
	pendingReply string
	// fallbackID is the playback speaking fallbackText because the
	// reply's audio had not arrived in time.
	fallbackID   uint64
	fallbackText string
	resumeTimer  clockwork.Timer
	audioTimer   clockwork.Timer
	errorTimer   clockwork.Timer
	endTimer     clockwork.Timer

	mu        sync.Mutex
	started   bool
	closed    bool
	state     TurnState
	status    transport.Status
	errMsg    string
	history   []Entry
	closeOnce sync.Once
	closeErr  error
}

// New creates a session. It does nothing until Start.
func New(t Transport, c Capturer, p Player, opts ...Option) (*Session, error) {
	if t == nil || c == nil || p == nil {
		return nil, errors.New("session: transport, capturer and player are required")
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:        id,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "session.call", "session_id", id),
		clock:     cfg.Clock,
		transport: t,
		capture:   c,
		player:    p,
		updates:   make(chan Update, cfg.UpdateBuffer),
		ended:     make(chan struct{}),
		done:      make(chan struct{}),
		cmds:      make(chan command),
		ctx:       ctx,
		cancel:    cancel,
		machine:   NewMachine(),
	}, nil
}

// ID returns the session's unique ID.
func (s *Session) ID() string { return s.id }

// Updates returns state, status, text and error updates. It is closed
// when the session closes. Updates are dropped if the consumer falls
// behind by more than the buffer size.
func (s *Session) Updates() <-chan Update { return s.updates }

// Ended is closed when the backend ended the call and the grace delay
// has passed. The owner should then call Close.
func (s *Session) Ended() <-chan struct{} { return s.ended }

// Done is closed once Close has finished tearing down.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current turn state.
func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the last transport status seen.
func (s *Session) Status() transport.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ErrorMessage returns the visible error message, if any.
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// History returns a copy of the conversation so far. The backend keeps
// its own context; history is never resent.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

// Start runs the event loop and connects. A failed initial connect is
// returned, and the transport keeps retrying in the background.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("starting call")
	go s.loop()

	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	return nil
}

// Talk presses the talk button: start listening, stop and send, or barge
// in over a reply being played.
func (s *Session) Talk() error {
	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotConnected
	}

	reply := make(chan error, 1)
	select {
	case s.cmds <- command{kind: cmdTalk, reply: reply}:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Close tears the call down: capture, then playback, then timers, then
// the transport. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		s.mu.Unlock()

		if started {
			s.cmds <- command{kind: cmdClose}
			<-s.done
			return
		}
		s.closeErr = s.teardown()
		close(s.done)
	})
	return s.closeErr
}

func (s *Session) loop() {
	defer close(s.done)

	tevents := s.transport.Events()
	pevents := s.player.Events()

	for {
		select {
		case cmd := <-s.cmds:
			if cmd.kind == cmdClose {
				s.closeErr = s.teardown()
				return
			}
			cmd.reply <- s.talk()

		case ev := <-tevents:
			s.handleTransport(ev)

		case ev, ok := <-pevents:
			if !ok {
				pevents = nil
				continue
			}
			s.handlePlayback(ev)

		case <-timerC(s.resumeTimer):
			s.resumeTimer = nil
			if s.machine.Resume() == ActionStartCapture {
				s.logger.Debug("resuming listening")
				_ = s.startCapture()
			}

		case <-timerC(s.audioTimer):
			s.audioTimer = nil
			if s.machine.ResponseWithoutAudio() {
				s.syncState()
				s.logger.Info("reply arrived without audio, speaking locally")
				text := s.pendingReply
				s.play(s.player.Speak(text))
				s.fallbackID, s.fallbackText = s.playingID, text
			}

		case <-timerC(s.errorTimer):
			s.errorTimer = nil
			s.setError("")
			s.emit(Update{Kind: UpdateErrorCleared})

		case <-timerC(s.endTimer):
			s.endTimer = nil
			close(s.ended)
			s.emit(Update{Kind: UpdateEnded})
			s.logger.Info("call ended")
		}
	}
}

func (s *Session) talk() error {
	s.stopTimer(&s.resumeTimer)

	action, err := s.machine.Talk()
	if err != nil {
		s.logger.Debug("talk rejected", "state", s.machine.State(), "error", err)
		return err
	}

	switch action {
	case ActionBargeIn:
		s.logger.Info("barge-in, stopping playback")
		s.player.Stop()
		s.playingID = 0
		return s.startCapture()
	case ActionStartCapture:
		return s.startCapture()
	case ActionSendUtterance:
		return s.sendUtterance()
	}
	return nil
}

func (s *Session) startCapture() error {
	if err := s.capture.Start(s.ctx); err != nil {
		s.machine.Cancel()
		s.syncState()
		s.emit(Update{Kind: UpdateAlert, State: s.machine.State(), Text: "Microphone unavailable", Err: err})
		s.logger.Error("capture failed", "error", err)
		return err
	}
	s.syncState()
	return nil
}

func (s *Session) sendUtterance() error {
	blob, err := s.capture.Stop()
	if err == nil && blob.Empty() {
		err = ErrNothingRecorded
	}
	if err != nil {
		s.machine.Cancel()
		s.syncState()
		s.showError(err.Error())
		return err
	}

	if err := s.transport.Send(protocol.NewAudio(blob.Data)); err != nil {
		s.machine.Cancel()
		s.syncState()
		s.showError("Failed to send audio")
		return err
	}

	s.pendingReply = ""
	s.syncState()
	s.logger.Info("utterance sent", "bytes", len(blob.Data), "duration", blob.Duration)
	return nil
}

func (s *Session) handleTransport(ev transport.Event) {
	switch ev.Kind {
	case transport.EventMessage:
		s.handleFrame(ev.Frame)

	case transport.EventStatus:
		s.mu.Lock()
		s.status = ev.Status
		s.mu.Unlock()

		if ev.Status != transport.StatusConnected {
			s.stopTimer(&s.resumeTimer)
		}
		switch s.machine.SetConnected(ev.Status == transport.StatusConnected) {
		case StateListening:
			if ev.Status != transport.StatusConnected {
				s.releaseCapture()
			}
		case StateProcessing:
			if ev.Status != transport.StatusConnected {
				s.stopTimer(&s.audioTimer)
				s.pendingReply = ""
			}
		}

		s.emit(Update{
			Kind:    UpdateStatus,
			State:   s.machine.State(),
			Status:  ev.Status,
			Attempt: ev.Attempt,
			Delay:   ev.Delay,
			Err:     ev.Err,
		})
		s.syncState()

		if ev.Status == transport.StatusError {
			s.logger.Error("voice connection lost", "error", ev.Err)
			s.emit(Update{Kind: UpdateAlert, State: s.machine.State(), Text: "Connection lost", Err: ev.Err})
		}

	case transport.EventError:
		s.logger.Warn("transport error", "error", ev.Err)
	}
}

func (s *Session) handleFrame(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeTranscript:
		s.appendHistory(RoleUser, f.Text)
		s.emit(Update{Kind: UpdateTranscript, State: s.machine.State(), Text: f.Text})

	case protocol.TypeResponse:
		s.appendHistory(RoleAssistant, f.Text)
		if s.machine.State() == StateProcessing {
			s.pendingReply = f.Text
			s.resetTimer(&s.audioTimer, s.cfg.ResponseAudioWait)
		}
		s.emit(Update{Kind: UpdateResponse, State: s.machine.State(), Text: f.Text})

	case protocol.TypeAudio:
		if s.fallbackID != 0 && s.fallbackID == s.playingID {
			s.replaceFallback(f)
			return
		}
		if s.machine.State() != StateProcessing {
			s.logger.Debug("ignoring audio outside processing", "state", s.machine.State())
			return
		}
		audio, err := f.Audio()
		if err != nil {
			s.logger.Warn("bad audio frame", "error", err)
		}
		s.stopTimer(&s.audioTimer)
		s.play(s.player.PlayBytes(audio, s.pendingReply))

	case protocol.TypeError:
		if s.machine.Cancel() == StateListening {
			s.releaseCapture()
		}
		s.stopTimer(&s.audioTimer)
		s.pendingReply = ""
		s.syncState()
		s.logger.Warn("backend error", "message", f.Message)
		s.showError(f.Message)

	case protocol.TypePong:
		s.logger.Debug("pong")

	case protocol.TypeEnd:
		s.end()
	}
}

// replaceFallback swaps the locally synthesized reply for the backend's
// audio when it arrives while the fallback is still playing.
func (s *Session) replaceFallback(f protocol.Frame) {
	audio, err := f.Audio()
	if err != nil {
		s.logger.Warn("bad late audio frame, keeping local speech", "error", err)
		return
	}
	s.logger.Info("reply audio arrived late, replacing local speech", "bytes", len(audio))
	text := s.fallbackText
	s.fallbackID, s.fallbackText = 0, ""
	s.playingID = s.player.PlayBytes(audio, text)
}

func (s *Session) play(id uint64) {
	s.pendingReply = ""
	if !s.machine.PlaybackStarted() {
		return
	}
	s.playingID = id
	s.syncState()
}

func (s *Session) handlePlayback(ev playback.Event) {
	if s.playingID == 0 || ev.ID != s.playingID {
		s.logger.Debug("ignoring stale playback event", "id", ev.ID, "kind", ev.Kind)
		return
	}
	s.playingID = 0
	s.fallbackID, s.fallbackText = 0, ""
	if ev.Kind == playback.EventInterrupted {
		return
	}
	if ev.Degraded {
		s.logger.Warn("reply played without audio", "error", ev.Err)
	}

	if s.machine.PlaybackEnded() && s.cfg.AutoResume {
		s.resetTimer(&s.resumeTimer, s.cfg.ResumeDelay)
	}
	s.syncState()
}

// end handles the backend's end frame. Audio already playing is left to
// finish; teardown stops it.
func (s *Session) end() {
	if s.machine.Ended() {
		return
	}
	if s.machine.End() == StateListening {
		s.releaseCapture()
	}
	s.stopTimer(&s.resumeTimer)
	s.stopTimer(&s.audioTimer)
	s.pendingReply = ""
	s.playingID = 0

	s.resetTimer(&s.endTimer, s.cfg.EndGrace)
	s.syncState()
	s.emit(Update{Kind: UpdateEnding, State: s.machine.State()})
	s.logger.Info("backend ended call", "grace", s.cfg.EndGrace)
}

func (s *Session) releaseCapture() {
	if _, err := s.capture.Stop(); err != nil {
		s.logger.Warn("release capture", "error", err)
	}
}

func (s *Session) teardown() error {
	var errs []error

	if _, err := s.capture.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop capture: %w", err))
	}

	s.player.Stop()
	if err := s.player.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close playback: %w", err))
	}

	s.stopTimer(&s.resumeTimer)
	s.stopTimer(&s.audioTimer)
	s.stopTimer(&s.errorTimer)
	s.stopTimer(&s.endTimer)

	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}

	s.cancel()
	close(s.updates)

	s.logger.Info("session closed", "turns", len(s.History()))
	return errors.Join(errs...)
}

func (s *Session) showError(msg string) {
	s.setError(msg)
	s.resetTimer(&s.errorTimer, s.cfg.ErrorDisplay)
	s.emit(Update{Kind: UpdateError, State: s.machine.State(), Text: msg})
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

func (s *Session) appendHistory(role Role, text string) {
	s.mu.Lock()
	s.history = append(s.history, Entry{Role: role, Text: text, At: s.clock.Now()})
	s.mu.Unlock()
}

// syncState publishes the machine's state if it changed.
func (s *Session) syncState() {
	state := s.machine.State()
	if state == s.lastState {
		return
	}
	s.logger.Debug("turn state", "from", s.lastState, "to", state)
	s.lastState = state

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateState, State: state})
}

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn("update dropped, consumer not keeping up", "kind", u.Kind)
	}
}

func (s *Session) resetTimer(t *clockwork.Timer, d time.Duration) {
	s.stopTimer(t)
	*t = s.clock.NewTimer(d)
}

func (s *Session) stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func timerC(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}
