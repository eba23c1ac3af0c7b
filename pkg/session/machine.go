package session

import "errors"

// Errors returned by Machine.Talk and Session.Talk.
var (
	// ErrBusy is returned when talk is pressed while a reply is pending.
	ErrBusy = errors.New("session: waiting for a response")

	// ErrNotConnected is returned when talk is pressed without a live
	// voice socket.
	ErrNotConnected = errors.New("session: not connected")

	// ErrEnded is returned after the backend ended the call.
	ErrEnded = errors.New("session: call ended")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// TurnState is whose turn it is.
type TurnState int

const (
	// StateIdle waits for the user.
	StateIdle TurnState = iota
	// StateListening records the user.
	StateListening
	// StateProcessing waits for the backend's reply.
	StateProcessing
	// StateSpeaking plays the reply.
	StateSpeaking
)

// String returns the state name.
func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Action is the side effect the owner must perform after a talk press.
type Action int

const (
	// ActionNone requires nothing.
	ActionNone Action = iota
	// ActionStartCapture starts recording.
	ActionStartCapture
	// ActionSendUtterance stops recording and sends the utterance.
	ActionSendUtterance
	// ActionBargeIn stops playback and then starts recording.
	ActionBargeIn
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStartCapture:
		return "start_capture"
	case ActionSendUtterance:
		return "send_utterance"
	case ActionBargeIn:
		return "barge_in"
	default:
		return "unknown"
	}
}

// Machine is the turn-taking state machine. It holds no I/O; callers act
// on the returned actions and report outcomes back. Machine is not safe
// for concurrent use.
type Machine struct {
	state     TurnState
	connected bool
	ended     bool
}

// NewMachine returns a machine in StateIdle, disconnected.
func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current turn state.
func (m *Machine) State() TurnState { return m.state }

// Connected reports whether the transport is connected.
func (m *Machine) Connected() bool { return m.connected }

// Ended reports whether the backend ended the call.
func (m *Machine) Ended() bool { return m.ended }

// Talk handles a talk press and returns the action to perform.
func (m *Machine) Talk() (Action, error) {
	if m.ended {
		return ActionNone, ErrEnded
	}
	switch m.state {
	case StateListening:
		m.state = StateProcessing
		return ActionSendUtterance, nil
	case StateProcessing:
		return ActionNone, ErrBusy
	case StateSpeaking:
		m.state = StateListening
		return ActionBargeIn, nil
	}
	if !m.connected {
		return ActionNone, ErrNotConnected
	}
	m.state = StateListening
	return ActionStartCapture, nil
}

// Cancel returns Listening or Processing to Idle after a failed side
// effect (capture could not start, nothing recorded, send failed) or a
// backend error frame. It returns the state it left.
func (m *Machine) Cancel() TurnState {
	prev := m.state
	if prev == StateListening || prev == StateProcessing {
		m.state = StateIdle
	}
	return prev
}

// ResponseWithoutAudio moves Processing to Idle when a reply arrived with
// no audio. It reports whether the reply should be synthesized locally.
func (m *Machine) ResponseWithoutAudio() bool {
	if m.state != StateProcessing {
		return false
	}
	m.state = StateIdle
	return true
}

// PlaybackStarted moves Processing or Idle to Speaking. It reports
// whether the transition was allowed.
func (m *Machine) PlaybackStarted() bool {
	if m.ended || (m.state != StateProcessing && m.state != StateIdle) {
		return false
	}
	m.state = StateSpeaking
	return true
}

// PlaybackEnded moves Speaking to Idle. It reports whether listening may
// resume automatically.
func (m *Machine) PlaybackEnded() bool {
	if m.state != StateSpeaking {
		return false
	}
	m.state = StateIdle
	return m.connected && !m.ended
}

// Resume moves Idle to Listening when still connected.
func (m *Machine) Resume() Action {
	if m.state != StateIdle || !m.connected || m.ended {
		return ActionNone
	}
	m.state = StateListening
	return ActionStartCapture
}

// SetConnected records the transport status. Losing the connection
// cancels Listening and Processing; it returns the state it left.
func (m *Machine) SetConnected(connected bool) TurnState {
	m.connected = connected
	if connected {
		return m.state
	}
	return m.Cancel()
}

// End handles a backend end frame: every state returns to Idle and no
// further turns are accepted. It returns the state it left.
func (m *Machine) End() TurnState {
	prev := m.state
	m.state = StateIdle
	m.ended = true
	return prev
}
