package session

import (
	"errors"
	"testing"
)

func machineIn(state TurnState, connected bool) *Machine {
	return &Machine{state: state, connected: connected}
}

func TestMachine_Talk(t *testing.T) {
	tests := []struct {
		name      string
		state     TurnState
		connected bool
		ended     bool
		action    Action
		next      TurnState
		err       error
	}{
		{"idle connected", StateIdle, true, false, ActionStartCapture, StateListening, nil},
		{"idle disconnected", StateIdle, false, false, ActionNone, StateIdle, ErrNotConnected},
		{"listening sends", StateListening, true, false, ActionSendUtterance, StateProcessing, nil},
		{"processing busy", StateProcessing, true, false, ActionNone, StateProcessing, ErrBusy},
		{"speaking barges in", StateSpeaking, true, false, ActionBargeIn, StateListening, nil},
		{"speaking barges in offline", StateSpeaking, false, false, ActionBargeIn, StateListening, nil},
		{"ended", StateIdle, true, true, ActionNone, StateIdle, ErrEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := machineIn(tt.state, tt.connected)
			m.ended = tt.ended

			action, err := m.Talk()
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
			if action != tt.action {
				t.Errorf("action = %s, want %s", action, tt.action)
			}
			if m.State() != tt.next {
				t.Errorf("state = %s, want %s", m.State(), tt.next)
			}
		})
	}
}

func TestMachine_Playback(t *testing.T) {
	m := machineIn(StateProcessing, true)
	if !m.PlaybackStarted() || m.State() != StateSpeaking {
		t.Fatalf("Processing -> Speaking failed, state %s", m.State())
	}
	if m.PlaybackStarted() {
		t.Error("Speaking -> Speaking should be rejected")
	}
	if !m.PlaybackEnded() || m.State() != StateIdle {
		t.Fatalf("Speaking -> Idle failed, state %s", m.State())
	}
	if m.PlaybackEnded() {
		t.Error("PlaybackEnded outside Speaking should be a no-op")
	}

	if m.Resume() != ActionStartCapture || m.State() != StateListening {
		t.Errorf("resume failed, state %s", m.State())
	}
}

func TestMachine_NoResumeWhenDisconnected(t *testing.T) {
	m := machineIn(StateSpeaking, false)
	if m.PlaybackEnded() {
		t.Error("auto-resume allowed while disconnected")
	}
	if m.Resume() != ActionNone || m.State() != StateIdle {
		t.Errorf("resume while disconnected moved to %s", m.State())
	}
}

func TestMachine_ResponseWithoutAudio(t *testing.T) {
	m := machineIn(StateProcessing, true)
	if !m.ResponseWithoutAudio() || m.State() != StateIdle {
		t.Fatalf("Processing -> Idle failed, state %s", m.State())
	}
	if !m.PlaybackStarted() || m.State() != StateSpeaking {
		t.Errorf("Idle -> Speaking failed, state %s", m.State())
	}

	m = machineIn(StateListening, true)
	if m.ResponseWithoutAudio() {
		t.Error("ResponseWithoutAudio outside Processing should be rejected")
	}
}

func TestMachine_Cancel(t *testing.T) {
	for _, state := range []TurnState{StateListening, StateProcessing} {
		m := machineIn(state, true)
		if prev := m.Cancel(); prev != state || m.State() != StateIdle {
			t.Errorf("Cancel from %s: prev %s, now %s", state, prev, m.State())
		}
	}

	m := machineIn(StateSpeaking, true)
	m.Cancel()
	if m.State() != StateSpeaking {
		t.Error("Cancel should not interrupt Speaking")
	}
}

func TestMachine_Disconnect(t *testing.T) {
	m := machineIn(StateListening, true)
	if prev := m.SetConnected(false); prev != StateListening || m.State() != StateIdle {
		t.Errorf("disconnect: prev %s, now %s", prev, m.State())
	}
	m.SetConnected(true)
	if !m.Connected() || m.State() != StateIdle {
		t.Error("reconnect should not change state")
	}
}

func TestMachine_End(t *testing.T) {
	for _, state := range []TurnState{StateIdle, StateListening, StateProcessing, StateSpeaking} {
		m := machineIn(state, true)
		if prev := m.End(); prev != state {
			t.Errorf("End prev = %s, want %s", prev, state)
		}
		if m.State() != StateIdle || !m.Ended() {
			t.Errorf("End from %s left %s", state, m.State())
		}
		if m.Resume() != ActionNone {
			t.Error("resume after end")
		}
		if m.PlaybackStarted() {
			t.Error("playback after end")
		}
	}
}
