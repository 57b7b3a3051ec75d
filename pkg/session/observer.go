package session

// FanOutObserver dispatches every Observer callback to each of its
// delegates in order, letting Transport and Sink both observe a single
// FSM's activity through the one Observer slot it holds.
type FanOutObserver struct {
	delegates []Observer
}

// NewFanOutObserver returns an Observer that forwards to each of delegates.
func NewFanOutObserver(delegates ...Observer) *FanOutObserver {
	return &FanOutObserver{delegates: delegates}
}

// OnTransition implements Observer.
func (f *FanOutObserver) OnTransition(s *Session, tr Transition) {
	for _, d := range f.delegates {
		d.OnTransition(s, tr)
	}
}

// OnStopPlayback implements Observer.
func (f *FanOutObserver) OnStopPlayback(sessionID string) {
	for _, d := range f.delegates {
		d.OnStopPlayback(sessionID)
	}
}

// OnTurn implements Observer.
func (f *FanOutObserver) OnTurn(s *Session, turn Turn) {
	for _, d := range f.delegates {
		d.OnTurn(s, turn)
	}
}

var _ Observer = (*FanOutObserver)(nil)
