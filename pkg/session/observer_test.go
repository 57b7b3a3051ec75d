package session

import "testing"

type fanOutRecordingObserver struct {
	transitions int
	stops       int
	turns       int
}

func (r *fanOutRecordingObserver) OnTransition(s *Session, tr Transition) { r.transitions++ }
func (r *fanOutRecordingObserver) OnStopPlayback(sessionID string)        { r.stops++ }
func (r *fanOutRecordingObserver) OnTurn(s *Session, turn Turn)           { r.turns++ }

func TestFanOutObserverForwardsToAllDelegates(t *testing.T) {
	a := &fanOutRecordingObserver{}
	b := &fanOutRecordingObserver{}
	fan := NewFanOutObserver(a, b)

	s := New("tenant", "user", Config{})
	fan.OnTransition(s, Transition{})
	fan.OnStopPlayback(s.ID)
	fan.OnTurn(s, Turn{})

	for _, r := range []*fanOutRecordingObserver{a, b} {
		if r.transitions != 1 || r.stops != 1 || r.turns != 1 {
			t.Fatalf("expected each delegate to observe once, got %+v", r)
		}
	}
}
