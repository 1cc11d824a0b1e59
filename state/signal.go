package state

// Signal is a one-shot broadcast, it can be triggered many times but only closes once.
type Signal chan struct{}

func NewSignal() Signal {
	return make(chan struct{})
}

func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}

func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}

func (s Signal) Wait() <-chan struct{} {
	return s
}
